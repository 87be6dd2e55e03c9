package threatintel

import (
	"log/slog"

	"github.com/kr1s57/feedvalidator/internal/config"
	"github.com/kr1s57/feedvalidator/internal/entity"
)

// NewClients builds every known vendor client from credentials, keyed by validator name
func NewClients(cfg config.ThreatIntelConfig) map[string]Client {
	clients := []Client{
		NewAbuseIPDBClient(AbuseIPDBConfig{APIKey: cfg.AbuseIPDBKey}),
		NewVirusTotalClient(VirusTotalConfig{APIKey: cfg.VirusTotalKey}),
		NewOTXClient(OTXConfig{APIKey: cfg.AlienVaultKey}),
		NewURLhausClient(URLhausConfig{APIKey: cfg.URLhausAuthKey}),
		NewThreatFoxClient(ThreatFoxConfig{APIKey: cfg.URLhausAuthKey}),
		NewSafeBrowsingClient(SafeBrowsingConfig{APIKey: cfg.SafeBrowsingKey}),
		NewURLScanClient(URLScanConfig{APIKey: cfg.URLScanKey}),
		NewNeutrinoClient(NeutrinoConfig{UserID: cfg.NeutrinoUserID, APIKey: cfg.NeutrinoKey}),
	}

	byName := make(map[string]Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return byName
}

// BuildAdapters wraps the client of every enabled policy. Policies naming an
// unknown vendor are skipped with a warning.
func BuildAdapters(clients map[string]Client, policies []entity.ValidatorPolicy, quota QuotaGate, cache *CheckCache, logger *slog.Logger) []*Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	adapters := make([]*Adapter, 0, len(policies))
	for _, p := range policies {
		if !p.IsEnabled() {
			continue
		}
		client, ok := clients[p.Name]
		if !ok {
			logger.Warn("[TIP] No client for configured validator", "validator", p.Name)
			continue
		}
		adapters = append(adapters, NewAdapter(client, p, quota, cache, logger))
	}

	configured := 0
	for _, a := range adapters {
		if a.client.IsConfigured() {
			configured++
		}
	}
	logger.Info("[TIP] Validators initialized", "total", len(adapters), "configured", configured)

	return adapters
}

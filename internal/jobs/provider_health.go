package jobs

import (
	"context"
	"log"
	"time"

	"agentdeck/internal/services"
)

// ProviderHealthJob keeps reachability state fresh between user-initiated
// probes: it re-probes the local inference endpoint and pings each enabled
// cloud vendor's model-list endpoint.
type ProviderHealthJob struct {
	providers *services.ProviderService
	discovery *services.DiscoveryService
}

// NewProviderHealthJob creates the provider health check job.
func NewProviderHealthJob(providers *services.ProviderService, discovery *services.DiscoveryService) *ProviderHealthJob {
	return &ProviderHealthJob{providers: providers, discovery: discovery}
}

func (j *ProviderHealthJob) Name() string { return "provider-health-check" }

// Run checks the local endpoint first, then the enabled cloud providers.
// Vendors without a stored credential are skipped; a ping without a key
// only measures the vendor's 401 path.
func (j *ProviderHealthJob) Run(ctx context.Context) error {
	local := j.discovery.Probe(ctx, "")
	if local.Detected {
		log.Printf("[HEALTH-JOB] Local inference: reachable (%d models)", len(local.Models))
	} else {
		log.Printf("[HEALTH-JOB] Local inference: not detected (%s)", local.Reason)
	}

	checked := 0
	healthy := 0
	for _, view := range j.providers.List() {
		if view.Local || !view.Enabled || !view.HasCredential {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := j.providers.ListModels(ctx, view.Provider)
		checked++
		if err != nil {
			log.Printf("[HEALTH-JOB] %s: FAILED (%v)", view.Provider, err)
			continue
		}
		if res.Err != "" {
			log.Printf("[HEALTH-JOB] %s: FAILED (%s)", view.Provider, res.Err)
			continue
		}
		healthy++

		// Small delay between vendors to avoid rate limiting
		time.Sleep(2 * time.Second)
	}

	log.Printf("[HEALTH-JOB] Provider checks complete: %d checked, %d reachable", checked, healthy)
	return nil
}

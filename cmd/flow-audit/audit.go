package main

import (
	"context"

	"funnel_builder_backend/internal/adapters/storage"
	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/internal/funnel/service"
)

type finding struct {
	funnel domain.Funnel
	issue  string
}

func auditFunnel(f domain.Funnel) []finding {
	if f.FlowError != nil {
		return []finding{{funnel: f, issue: f.FlowError.Error()}}
	}
	if !f.HasValidFlow() {
		return []finding{{funnel: f, issue: "flow has no usable start block"}}
	}

	var out []finding
	if f.AppTrigger == nil && f.MembershipTrigger == nil {
		out = append(out, finding{funnel: f, issue: "deployed without a trigger"})
	}
	if _, ok := f.Flow.FirstBlockOfStage(domain.StageTransition); ok && f.TargetFunnelID == nil {
		out = append(out, finding{funnel: f, issue: "TRANSITION stage hands off to the same funnel"})
	}
	return out
}

func auditArchive(ctx context.Context, store storage.StorageService, bucket string, f domain.Funnel) string {
	ok, err := store.ObjectExists(ctx, bucket, service.ArchiveKey(f.ExperienceID, f.ID, f.Version))
	if err != nil {
		return "archive check failed: " + err.Error()
	}
	if !ok {
		return "archived snapshot missing"
	}
	return ""
}

package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/psantana5/machinist/pkg/metrics"
	"github.com/psantana5/machinist/pkg/models"
	"github.com/psantana5/machinist/pkg/provision"
)

func sweptRecord(id string) *models.OrphanRecord {
	return &models.OrphanRecord{ID: id, Handle: models.ResourceHandle{ID: id}}
}

func TestOrphanDestroy_CountsOrphanReleases(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	prov := &recordingProvisioner{}

	destroy := orphanDestroy(prov, m)
	if err := destroy(context.Background(), sweptRecord("i-old1")); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if prov.destroys != 1 {
		t.Fatalf("Expected 1 destroy, got %d", prov.destroys)
	}

	expected := `
# HELP machinist_releases_total Machine releases by reason and result
# TYPE machinist_releases_total counter
machinist_releases_total{reason="orphaned",result="success"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "machinist_releases_total"); err != nil {
		t.Errorf("Unexpected release metrics: %v", err)
	}
}

func TestOrphanDestroy_AlreadyGoneCountsAsSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	prov := &recordingProvisioner{destroyErr: provision.ErrInstanceNotFound}

	err := orphanDestroy(prov, m)(context.Background(), sweptRecord("i-gone"))
	if !errors.Is(err, provision.ErrInstanceNotFound) {
		t.Fatalf("Expected ErrInstanceNotFound to propagate, got %v", err)
	}

	expected := `
# HELP machinist_releases_total Machine releases by reason and result
# TYPE machinist_releases_total counter
machinist_releases_total{reason="orphaned",result="success"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "machinist_releases_total"); err != nil {
		t.Errorf("Already-gone instance must count as a successful release: %v", err)
	}
}

func TestOrphanDestroy_NilMetrics(t *testing.T) {
	prov := &recordingProvisioner{}

	// The one-shot sweep path runs without a registry
	if err := orphanDestroy(prov, nil)(context.Background(), sweptRecord("i-old1")); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
}

package config

import (
	"os"
	"testing"

	"gopkg.in/yaml.v3"

	"relaynet/internal/testutil"
)

func TestSaveRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	var cfg Config
	cfg.Network.ID = "saved"
	cfg.Network.MaxPeers = 7
	cfg.Dandelion.StemTimeoutMS = 500

	path := sb.Path("out.yaml")
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var got Config
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Network.ID != "saved" || got.Network.MaxPeers != 7 {
		t.Fatalf("round trip mismatch: %+v", got.Network)
	}
	if got.Dandelion.StemTimeoutMS != 500 {
		t.Fatalf("dandelion section lost: %+v", got.Dandelion)
	}
}

package cli

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/ppiankov/shapespectre/internal/atlas"
)

func stubAtlas(t *testing.T, fake *fakeAtlasClient) *atlas.Config {
	t.Helper()
	var got atlas.Config
	stubNewAtlasClient(t, func(cfg atlas.Config) (atlasClient, error) {
		got = cfg
		return fake, nil
	})
	return &got
}

func TestFederationRetarget(t *testing.T) {
	fake := &fakeAtlasClient{
		clusterRes:  atlas.Cluster{Name: "analytics", MongoDBVersion: "8.0.4", StateName: "IDLE"},
		retargetRes: atlas.FederatedInstance{"name": "fed1", "state": "ACTIVE"},
	}
	got := stubAtlas(t, fake)

	stdout, stderr, err := execCLI(t, "federation", "retarget", "proj1", "fed1", "analytics",
		"--public-key", "pub", "--private-key", "priv")
	if err != nil {
		t.Fatal(err)
	}

	if got.PublicKey != "pub" || got.PrivateKey != "priv" || got.RateLimitMS != 250 {
		t.Errorf("atlas config = %+v", *got)
	}
	if len(fake.getClusterCalls) != 1 || fake.getClusterCalls[0] != "proj1/analytics" {
		t.Errorf("GetCluster calls = %v", fake.getClusterCalls)
	}
	if len(fake.retargetCalls) != 1 || fake.retargetCalls[0] != "proj1/fed1/analytics" {
		t.Errorf("Retarget calls = %v", fake.retargetCalls)
	}
	if !strings.Contains(stderr, "Cluster analytics (MongoDB 8.0.4, IDLE)") {
		t.Errorf("stderr = %q", stderr)
	}

	var inst map[string]any
	if err := json.Unmarshal([]byte(stdout), &inst); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if inst["name"] != "fed1" {
		t.Errorf("instance = %v", inst)
	}
}

func TestFederationRetargetEnvKeys(t *testing.T) {
	t.Setenv(atlas.EnvPublicKey, "env-pub")
	t.Setenv(atlas.EnvPrivateKey, "env-priv")
	got := stubAtlas(t, &fakeAtlasClient{})

	if _, _, err := execCLI(t, "federation", "retarget", "p", "t", "c"); err != nil {
		t.Fatal(err)
	}
	if got.PublicKey != "env-pub" || got.PrivateKey != "env-priv" {
		t.Errorf("atlas config = %+v, want keys from environment", *got)
	}
}

func TestFederationRetargetDryRun(t *testing.T) {
	fake := &fakeAtlasClient{
		clusterRes: atlas.Cluster{Name: "analytics"},
		instanceRes: atlas.FederatedInstance{
			"name":              "fed1",
			"dataProcessRegion": map[string]any{"region": "VIRGINIA_USA"},
			"hostnames":         []any{"fed1.example.net"},
		},
	}
	stubAtlas(t, fake)

	stdout, _, err := execCLI(t, "federation", "retarget", "proj1", "fed1", "analytics", "--dry-run",
		"--public-key", "pub", "--private-key", "priv")
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.retargetCalls) != 0 {
		t.Errorf("dry run applied the change: %v", fake.retargetCalls)
	}

	var inst map[string]any
	if err := json.Unmarshal([]byte(stdout), &inst); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := inst["hostnames"]; ok {
		t.Error("non-retained field kept")
	}
	if _, ok := inst["dataProcessRegion"]; !ok {
		t.Error("dataProcessRegion dropped")
	}
	storage, _ := inst["storage"].(map[string]any)
	stores, _ := storage["stores"].([]any)
	if len(stores) != 1 {
		t.Fatalf("stores = %v, want one", storage["stores"])
	}
	store, _ := stores[0].(map[string]any)
	if store["clusterName"] != "analytics" || store["projectId"] != "proj1" {
		t.Errorf("store = %v", store)
	}
}

func TestFederationRetargetErrors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeAtlasClient
		want string
	}{
		{
			name: "cluster not found",
			fake: &fakeAtlasClient{clusterErr: &atlas.APIError{StatusCode: http.StatusNotFound}},
			want: `cluster "c" not found in project p`,
		},
		{
			name: "cluster lookup",
			fake: &fakeAtlasClient{clusterErr: errors.New("timeout")},
			want: "get cluster: timeout",
		},
		{
			name: "retarget",
			fake: &fakeAtlasClient{retargetErr: errors.New("update federated instance t: 400")},
			want: "update federated instance t",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stubAtlas(t, tc.fake)
			_, _, err := execCLI(t, "federation", "retarget", "p", "t", "c", "--public-key", "a", "--private-key", "b")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestFederationRetargetMissingCredentials(t *testing.T) {
	t.Setenv(atlas.EnvPublicKey, "")
	t.Setenv(atlas.EnvPrivateKey, "")

	_, _, err := execCLI(t, "federation", "retarget", "p", "t", "c")
	if err == nil || !strings.Contains(err.Error(), "atlas credentials are required") {
		t.Fatalf("error = %v", err)
	}
}

func TestFederationRetargetArgs(t *testing.T) {
	_, _, err := execCLI(t, "federation", "retarget", "p", "t")
	if err == nil {
		t.Fatal("expected argument count error")
	}
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/shapespectre/internal/atlas"
	"github.com/ppiankov/shapespectre/internal/config"
	mongoinspect "github.com/ppiankov/shapespectre/internal/mongo"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/shape"
)

type fakeInspector struct {
	serverInfo    mongoinspect.ServerInfo
	serverInfoErr error
	statsRes      []querystats.StatsRecord
	statsErr      error
	settingsRes   []querystats.SettingsRecord
	settingsErr   error
	indexesRes    map[querystats.Namespace][]querystats.IndexEntry
	indexesErr    error
	plans         map[string]shape.Value // by collection
	explainErr    error
	rateLimit     int64
	rateLimitErr  error
	setLimitErr   error
	closeErr      error

	mu            sync.Mutex
	explainCalls  []querystats.Key
	setLimitCalls []int64
	closeCalls    int
}

func (f *fakeInspector) Close(context.Context) error {
	f.closeCalls++
	return f.closeErr
}

func (f *fakeInspector) ServerVersion(context.Context) (mongoinspect.ServerInfo, error) {
	if f.serverInfoErr != nil {
		return mongoinspect.ServerInfo{}, f.serverInfoErr
	}
	return f.serverInfo, nil
}

func (f *fakeInspector) QueryStats(context.Context) ([]querystats.StatsRecord, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return append([]querystats.StatsRecord(nil), f.statsRes...), nil
}

func (f *fakeInspector) AllQuerySettings(context.Context, []querystats.StatsRecord) ([]querystats.SettingsRecord, error) {
	if f.settingsErr != nil {
		return nil, f.settingsErr
	}
	return append([]querystats.SettingsRecord(nil), f.settingsRes...), nil
}

func (f *fakeInspector) IndexesFor(context.Context, []querystats.StatsRecord) (map[querystats.Namespace][]querystats.IndexEntry, error) {
	return f.indexesRes, f.indexesErr
}

func (f *fakeInspector) Explain(_ context.Context, key querystats.Key) (shape.Value, error) {
	f.mu.Lock()
	f.explainCalls = append(f.explainCalls, key)
	f.mu.Unlock()
	if f.explainErr != nil {
		return nil, f.explainErr
	}
	return f.plans[key.Namespace.Collection], nil
}

func (f *fakeInspector) QueryStatsRateLimit(context.Context) (int64, error) {
	if f.rateLimitErr != nil {
		return 0, f.rateLimitErr
	}
	return f.rateLimit, nil
}

func (f *fakeInspector) SetQueryStatsRateLimit(_ context.Context, limit int64) error {
	f.setLimitCalls = append(f.setLimitCalls, limit)
	return f.setLimitErr
}

type fakeAtlasClient struct {
	clusterRes  atlas.Cluster
	clusterErr  error
	instanceRes atlas.FederatedInstance
	instanceErr error
	retargetRes atlas.FederatedInstance
	retargetErr error

	getClusterCalls  []string
	getInstanceCalls []string
	retargetCalls    []string
}

func (f *fakeAtlasClient) GetCluster(_ context.Context, projectID, clusterName string) (atlas.Cluster, error) {
	f.getClusterCalls = append(f.getClusterCalls, projectID+"/"+clusterName)
	if f.clusterErr != nil {
		return atlas.Cluster{}, f.clusterErr
	}
	return f.clusterRes, nil
}

func (f *fakeAtlasClient) GetFederatedInstance(_ context.Context, projectID, tenant string) (atlas.FederatedInstance, error) {
	f.getInstanceCalls = append(f.getInstanceCalls, projectID+"/"+tenant)
	if f.instanceErr != nil {
		return nil, f.instanceErr
	}
	return f.instanceRes, nil
}

func (f *fakeAtlasClient) Retarget(_ context.Context, projectID, tenant, clusterName string) (atlas.FederatedInstance, error) {
	f.retargetCalls = append(f.retargetCalls, projectID+"/"+tenant+"/"+clusterName)
	if f.retargetErr != nil {
		return nil, f.retargetErr
	}
	return f.retargetRes, nil
}

func stubNewInspector(t *testing.T, fn func(context.Context, mongoinspect.Config) (inspector, error)) {
	t.Helper()
	orig := newInspector
	newInspector = fn
	t.Cleanup(func() {
		newInspector = orig
	})
}

func stubInspector(t *testing.T, fake *fakeInspector) *mongoinspect.Config {
	t.Helper()
	var got mongoinspect.Config
	stubNewInspector(t, func(_ context.Context, cfg mongoinspect.Config) (inspector, error) {
		got = cfg
		return fake, nil
	})
	return &got
}

func stubNewAtlasClient(t *testing.T, fn func(atlas.Config) (atlasClient, error)) {
	t.Helper()
	orig := newAtlasClient
	newAtlasClient = fn
	t.Cleanup(func() {
		newAtlasClient = orig
	})
}

func execCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MONGODB_URI", "")
	prevURI := uri
	prevVerbose := verbose
	prevTimeout := timeout
	prevVersion := version
	prevCfg := cfg
	prevLogger := logger
	prevWorkDir := workDir
	t.Cleanup(func() {
		uri = prevURI
		verbose = prevVerbose
		timeout = prevTimeout
		version = prevVersion
		cfg = prevCfg
		logger = prevLogger
		workDir = prevWorkDir
	})
	uri = ""
	verbose = false
	timeout = 30 * time.Second
	cfg = config.DefaultConfig()
	logger = zap.NewNop()
	workDir = ""

	cmd := newRootCmd(testBuildInfo)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	var outBuf, errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// chdir switches to dir for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func requireExitCode(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected ExitError(%d), got nil", want)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError(%d), got %T (%v)", want, err, err)
	}
	if exitErr.Code != want {
		t.Fatalf("exit code = %d, want %d", exitErr.Code, want)
	}
}

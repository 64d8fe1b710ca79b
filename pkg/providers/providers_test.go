package providers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcaudefroy/hot-api-mock/pkg/dispatch"
	"github.com/marcaudefroy/hot-api-mock/pkg/mocks"
	"github.com/marcaudefroy/hot-api-mock/pkg/providers"
	"github.com/marcaudefroy/hot-api-mock/pkg/proxy"
)

func newClient(t *testing.T) (*http.Client, *providers.Dataset) {
	t.Helper()
	reg := mocks.NewRegistry()
	ds := providers.NewDataset()
	require.NoError(t, providers.RegisterAll(reg, ds, 0))
	require.NoError(t, reg.Err())
	return dispatch.New(reg, dispatch.WithNext(proxy.NotFound())).Client(), ds
}

func call[T any](t *testing.T, c *http.Client, method, path string, body any) (int, providers.Envelope[T]) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, "http://dash.local"+path, rd)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env providers.Envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestRegisterAll_Routes(t *testing.T) {
	reg := mocks.NewRegistry()
	require.NoError(t, providers.RegisterAll(reg, providers.NewDataset(), 0))

	var got []string
	for _, r := range reg.Registrations() {
		got = append(got, string(r.Method)+" "+r.Pattern)
	}
	assert.Equal(t, []string{
		"GET /api/summary",
		"GET /api/device/:wwn/details",
		"POST /api/device/:wwn/:action",
		"DELETE /api/device/:wwn",
		"GET /api/settings",
		"POST /api/settings",
		"GET /api/zfs/summary",
		"GET /api/zfs/pool/{guid}/details",
		"POST /api/zfs/pool/{guid}/{action}",
		"DELETE /api/zfs/pool/{guid}",
	}, got)
}

func TestSummary_Idempotent(t *testing.T) {
	c, _ := newClient(t)

	status, first := call[providers.SummaryData](t, c, http.MethodGet, "/api/summary", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, first.Success)
	require.Len(t, first.Data.Summary, 3)

	sda := first.Data.Summary[providers.WWNSeagate]
	assert.Equal(t, "sda", sda.Device.DeviceName)
	require.NotNil(t, sda.Smart)
	assert.Equal(t, int64(34), sda.Smart.Temp)
	assert.Len(t, sda.TempHistory, 7)

	for range 3 {
		_, again := call[providers.SummaryData](t, c, http.MethodGet, "/api/summary", nil)
		assert.Equal(t, first, again)
	}
}

func TestDeviceDetails(t *testing.T) {
	c, _ := newClient(t)

	status, env := call[providers.DeviceDetails](t, c, http.MethodGet, "/api/device/"+providers.WWNWD+"/details", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, providers.WWNWD, env.Data.Device.WWN)
	require.Len(t, env.Data.SmartResults, 7)
	assert.Contains(t, env.Data.SmartResults[0].Attributes, "5")

	status, env = call[providers.DeviceDetails](t, c, http.MethodGet, "/api/device/0xdead/details", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Errors)
}

func TestDeviceActions(t *testing.T) {
	c, _ := newClient(t)
	path := "/api/device/" + providers.WWNNVMe

	status, dev := call[providers.Device](t, c, http.MethodPost, path+"/mute", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, dev.Data.Muted)

	_, sum := call[providers.SummaryData](t, c, http.MethodGet, "/api/summary", nil)
	assert.True(t, sum.Data.Summary[providers.WWNNVMe].Device.Muted)

	status, _ = call[providers.Device](t, c, http.MethodPost, path+"/explode", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call[any](t, c, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, status)
	_, sum = call[providers.SummaryData](t, c, http.MethodGet, "/api/summary", nil)
	assert.NotContains(t, sum.Data.Summary, providers.WWNNVMe)

	status, _ = call[any](t, c, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSettings_RoundTrip(t *testing.T) {
	c, _ := newClient(t)

	_, env := call[providers.Settings](t, c, http.MethodGet, "/api/settings", nil)
	settings := env.Data
	assert.Equal(t, "system", settings.Theme)

	settings.Theme = "dark"
	settings.Metrics.NotifyLevel = 1
	status, saved := call[providers.Settings](t, c, http.MethodPost, "/api/settings", settings)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, settings, saved.Data)

	_, env = call[providers.Settings](t, c, http.MethodGet, "/api/settings", nil)
	assert.Equal(t, "dark", env.Data.Theme)
	assert.Equal(t, 1, env.Data.Metrics.NotifyLevel)

	status, env = call[providers.Settings](t, c, http.MethodPost, "/api/settings", map[string]any{"unknown_field": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.Success)
}

func TestZFS_MuteIsVisibleInSummary(t *testing.T) {
	c, _ := newClient(t)

	_, before := call[providers.ZFSSummary](t, c, http.MethodGet, "/api/zfs/summary", nil)
	require.Len(t, before.Data.Pools, 2)
	assert.False(t, before.Data.Pools[providers.PoolTank].Muted)

	status, pool := call[providers.Pool](t, c, http.MethodPost, "/api/zfs/pool/"+providers.PoolTank+"/mute", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, pool.Data.Muted)

	_, after := call[providers.ZFSSummary](t, c, http.MethodGet, "/api/zfs/summary", nil)
	assert.True(t, after.Data.Pools[providers.PoolTank].Muted)
	assert.False(t, after.Data.Pools[providers.PoolBackups].Muted)

	_, pool = call[providers.Pool](t, c, http.MethodPost, "/api/zfs/pool/"+providers.PoolTank+"/unmute", nil)
	assert.False(t, pool.Data.Muted)
}

func TestZFS_Errors(t *testing.T) {
	c, _ := newClient(t)

	status, _ := call[providers.Pool](t, c, http.MethodPost, "/api/zfs/pool/"+providers.PoolTank+"/scrub-now", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call[providers.Pool](t, c, http.MethodPost, "/api/zfs/pool/123/archive", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call[providers.Pool](t, c, http.MethodGet, "/api/zfs/pool/123/details", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, pool := call[providers.Pool](t, c, http.MethodGet, "/api/zfs/pool/"+providers.PoolBackups+"/details", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "DEGRADED", pool.Data.Status)

	status, _ = call[any](t, c, http.MethodDelete, "/api/zfs/pool/"+providers.PoolBackups, nil)
	assert.Equal(t, http.StatusOK, status)
	_, sum := call[providers.ZFSSummary](t, c, http.MethodGet, "/api/zfs/summary", nil)
	assert.Len(t, sum.Data.Pools, 1)
}

func TestUnknownPathFallsThrough(t *testing.T) {
	c, _ := newClient(t)
	resp, err := c.Get("http://dash.local/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDataset_ReadsAreCopies(t *testing.T) {
	ds := providers.NewDataset()

	details, err := ds.DeviceDetails(providers.WWNSeagate)
	require.NoError(t, err)
	delete(details.SmartResults[0].Attributes, "9")

	again, err := ds.DeviceDetails(providers.WWNSeagate)
	require.NoError(t, err)
	assert.Contains(t, again.SmartResults[0].Attributes, "9")

	pool, err := ds.Pool(providers.PoolTank)
	require.NoError(t, err)
	pool.Vdevs[0].Children[0] = "changed"
	again2, err := ds.Pool(providers.PoolTank)
	require.NoError(t, err)
	assert.Equal(t, "sda", again2.Vdevs[0].Children[0])
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"mute", "unmute", "archive", "unarchive"} {
		a, err := providers.ParseAction(s)
		require.NoError(t, err)
		assert.Equal(t, providers.Action(s), a)
	}
	_, err := providers.ParseAction("MUTE")
	assert.ErrorIs(t, err, providers.ErrUnknownAction)
}

package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   string
}

func fakeAPI(t *testing.T, responses map[string]string) *[]recorded {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, body: string(data)})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		resp, ok := responses[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"no such route"}`)
			return
		}
		io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("LINKEYE_API_URL", srv.URL)
	t.Setenv("LINKEYE_TOKEN", "tok")
	return &calls
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLinkList(t *testing.T) {
	fakeAPI(t, map[string]string{
		"GET /api/v1/links": `{"links":[
			{"id":1,"origin_serial":"BOA100","dest_serial":"PRA100","alias":"north","current_loss":7.25,"enabled":true},
			{"id":2,"origin_serial":"BOA200","is_single":true,"enabled":true},
			{"id":3,"origin_serial":"BOA300","dest_serial":"PRA300","enabled":false,"error":"no amplifier found at destination"}
		]}`,
	})

	out, err := run(t, NewLinkCommand(), "list")

	require.NoError(t, err)
	assert.Contains(t, out, "north")
	assert.Contains(t, out, "7.25")
	assert.Contains(t, out, "(single)")
	assert.Contains(t, out, "n/a")
}

func TestLinkImport(t *testing.T) {
	calls := fakeAPI(t, map[string]string{"POST /api/v1/links/import": `{"imported":1}`})
	file := filepath.Join(t.TempDir(), "links.yaml")
	doc := "links:\n  - origin_serial: BOA100\n    dest_serial: PRA100\n"
	require.NoError(t, os.WriteFile(file, []byte(doc), 0644))

	out, err := run(t, NewLinkCommand(), "import", file)

	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 links")
	require.Len(t, *calls, 1)
	assert.Equal(t, doc, (*calls)[0].body)
}

func TestLinkDisable_BadID(t *testing.T) {
	fakeAPI(t, nil)
	_, err := run(t, NewLinkCommand(), "disable", "north")
	assert.Error(t, err)
}

func TestInhibitAndClear(t *testing.T) {
	calls := fakeAPI(t, map[string]string{
		"POST /api/v1/suppressions/BOA100/inhibit":   `{}`,
		"DELETE /api/v1/suppressions/BOA100/inhibit": `{}`,
	})

	_, err := run(t, NewInhibitCommand(), "BOA100", "--reason", "fiber works")
	require.NoError(t, err)
	_, err = run(t, NewInhibitCommand(), "BOA100", "--clear")
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte((*calls)[0].body), &body))
	assert.Equal(t, "fiber works", body["reason"])
	assert.Equal(t, http.MethodDelete, (*calls)[1].method)
}

func TestAck(t *testing.T) {
	calls := fakeAPI(t, map[string]string{"POST /api/v1/suppressions/BOA100/ack": `{}`})

	_, err := run(t, NewAckCommand(), "BOA100")
	assert.Error(t, err, "loss is mandatory")

	out, err := run(t, NewAckCommand(), "BOA100", "--loss", "7.4", "--hours", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "7.40")

	require.Len(t, *calls, 1)
	assert.JSONEq(t, `{"loss":7.4,"hours":12}`, (*calls)[0].body)
}

func TestAlertList_APIError(t *testing.T) {
	fakeAPI(t, nil)
	_, err := run(t, NewAlertCommand(), "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such route")
}

func TestSettingsSet(t *testing.T) {
	calls := fakeAPI(t, map[string]string{"PUT /api/v1/settings": `{"updated":2}`})

	_, err := run(t, NewSettingsCommand(), "set", "maintenanceMode=true", "alertJitterThreshold=0.4")
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	assert.JSONEq(t, `{"maintenanceMode":"true","alertJitterThreshold":"0.4"}`, (*calls)[0].body)

	_, err = run(t, NewSettingsCommand(), "set", "nonsense")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	fakeAPI(t, map[string]string{"GET /api/v1/metrics": `{"total_cycles":12,"failed_fetches":1}`})

	out, err := run(t, NewStatusCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "total_cycles")
	assert.Contains(t, out, "12")
}

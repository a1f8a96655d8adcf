package adb_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbfleet/internal/adb"
)

// fakeTransport scripts responses by joined argv.
type fakeTransport struct {
	responses map[string]fakeResponse
	calls     [][]string
}

type fakeResponse struct {
	stdout string
	stderr string
	code   int
}

func (t *fakeTransport) Run(_ context.Context, args []string) (string, string, int, error) {
	t.calls = append(t.calls, args)
	res, ok := t.responses[strings.Join(args, " ")]
	if !ok {
		return "", "", 0, nil
	}
	return res.stdout, res.stderr, res.code, nil
}

func newFake(responses map[string]fakeResponse) (*fakeTransport, *adb.Executor) {
	transport := &fakeTransport{responses: responses}
	return transport, adb.NewExecutor(transport)
}

func TestExecTargetsDevice(t *testing.T) {
	transport, exec := newFake(nil)

	_, err := exec.Exec(context.Background(), "emu-5554", "uninstall", "com.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"-s", "emu-5554", "uninstall", "com.example"}, transport.calls[0])

	_, err = exec.Exec(context.Background(), "", "devices")
	require.NoError(t, err)
	assert.Equal(t, []string{"devices"}, transport.calls[1])
}

func TestExecNonzeroExit(t *testing.T) {
	_, exec := newFake(map[string]fakeResponse{
		"-s emu-5554 shell pm clear com.example": {stderr: "Failure\n", code: 1},
	})

	_, err := exec.Shell(context.Background(), "emu-5554", "pm", "clear", "com.example")
	require.Error(t, err)

	var cmdErr *adb.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Equal(t, "Failure\n", cmdErr.Stderr)
	assert.Contains(t, cmdErr.Error(), "pm clear com.example")
}

func TestDevices(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		want    []string
		wantErr error
	}{
		{
			name:   "devices in device state",
			stdout: "List of devices attached\nemu-5554\tdevice\nHT4CTJT01234\tdevice\n",
			want:   []string{"emu-5554", "HT4CTJT01234"},
		},
		{
			name:    "offline devices do not count",
			stdout:  "List of devices attached\nemu-5554\toffline\n",
			wantErr: adb.ErrNoDevices,
		},
		{
			name:    "no devices",
			stdout:  "List of devices attached\n",
			wantErr: adb.ErrNoDevices,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, exec := newFake(map[string]fakeResponse{"devices": {stdout: tt.stdout}})
			devices, err := exec.Devices(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, devices)
		})
	}
}

func TestAPIVersion(t *testing.T) {
	_, exec := newFake(map[string]fakeResponse{
		"-s emu-5554 shell getprop ro.build.version.sdk": {stdout: "23\n"},
	})
	version, err := exec.APIVersion(context.Background(), "emu-5554")
	require.NoError(t, err)
	assert.Equal(t, 23, version)
}

func TestFileSize(t *testing.T) {
	const remote = "/sdcard/_adbfleet_hprof_tmp"
	tests := []struct {
		name string
		res  fakeResponse
		want int64
	}{
		{
			name: "listing row",
			res:  fakeResponse{stdout: "-rw-rw---- root sdcard_rw   8231234 2014-10-10 10:33 _adbfleet_hprof_tmp\n"},
			want: 8231234,
		},
		{
			name: "missing file echoes path",
			res:  fakeResponse{stdout: remote + ": No such file or directory\n"},
			want: -1,
		},
		{
			name: "missing file exits nonzero",
			res:  fakeResponse{stderr: remote + ": No such file or directory\n", code: 1},
			want: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, exec := newFake(map[string]fakeResponse{
				"-s emu-5554 shell ls -l " + remote: tt.res,
			})
			size, err := exec.FileSize(context.Background(), remote, "emu-5554")
			require.NoError(t, err)
			assert.Equal(t, tt.want, size)
		})
	}
}

func TestInstalledPackages(t *testing.T) {
	_, exec := newFake(map[string]fakeResponse{
		"-s emu-5554 shell pm list packages": {stdout: "package:com.android.settings\npackage:com.example.app\n"},
	})
	packages, err := exec.InstalledPackages(context.Background(), "emu-5554")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.android.settings", "com.example.app"}, packages)
}

package vmengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aegisorg/vm/internal/vmstore"
)

// chProcess drives one Cloud Hypervisor child process over its REST API on
// a unix control socket, grounded directly on the teacher's chInstance /
// chClient / freshBoot in internal/vmm/cloudhv.go. Where the teacher keys a
// shared daemon's instances map by a generated instance ID, this type is
// owned outright by one Engine, so there is no instances map or mutex here.
type chProcess struct {
	cmd    *exec.Cmd
	client *chClient
	netDev NetDevice
	net    Network
	done   chan struct{}
	waitErr error
}

type chClient struct {
	http *http.Client
	base string
}

func newCHClient(socketPath string) *chClient {
	return &chClient{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return net.DialTimeout("unix", socketPath, 5*time.Second)
				},
			},
			Timeout: 30 * time.Second,
		},
		base: "http://localhost",
	}
}

func (c *chClient) put(path string, body interface{}) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		r = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(http.MethodPut, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func doOK(resp *http.Response, err error, action string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", action, resp.StatusCode, body)
	}
	return nil
}

// startCloudHypervisor spawns the cloud-hypervisor binary bound to a fresh
// API socket, attaches the network device, issues vm.create then vm.boot,
// and returns a handle observing the child's lifetime.
func startCloudHypervisor(ctx context.Context, cfg *vmstore.VMConfiguration, opts StartOptions, paths Paths, serialIn io.Reader, serialOut io.Writer, network Network) (*chProcess, error) {
	netDev, err := network.Attach(ctx, cfg.Name, cfg.MACAddress)
	if err != nil {
		return nil, fmt.Errorf("attach network: %w", err)
	}

	bin := paths.CloudHypervisorBin
	if bin == "" {
		bin = "cloud-hypervisor"
	}
	os.Remove(paths.ControlSocket)
	cmd := exec.Command(bin, "--api-socket", paths.ControlSocket)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = network.Teardown(ctx, netDev)
		return nil, fmt.Errorf("start cloud-hypervisor: %w", err)
	}

	proc := &chProcess{
		cmd:    cmd,
		netDev: netDev,
		net:    network,
		done:   make(chan struct{}),
	}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()

	if err := waitForSocket(paths.ControlSocket, 10*time.Second); err != nil {
		_ = proc.kill()
		return nil, err
	}

	proc.client = newCHClient(paths.ControlSocket)

	if err := proc.boot(cfg, opts, paths, netDev); err != nil {
		_ = proc.kill()
		return nil, err
	}

	if serialOut != nil {
		go bridgeSerial(paths.ControlSocket, serialIn, serialOut)
	}

	return proc, nil
}

// boot issues vm.create then vm.boot with the block devices in the order
// spec §4.4 mandates: [main disk, secondary?, iso?, cloud-init?].
func (p *chProcess) boot(cfg *vmstore.VMConfiguration, opts StartOptions, paths Paths, netDev NetDevice) error {
	var disks []map[string]interface{}
	disks = append(disks, map[string]interface{}{"path": paths.DiskImage})
	if opts.SecondaryDisk != "" {
		disks = append(disks, map[string]interface{}{"path": opts.SecondaryDisk})
	}
	if opts.AttachISO && paths.ISOPath != "" {
		disks = append(disks, map[string]interface{}{"path": paths.ISOPath, "readonly": true})
	}
	if paths.CloudInitISO != "" {
		disks = append(disks, map[string]interface{}{"path": paths.CloudInitISO, "readonly": true})
	}

	payload := map[string]interface{}{
		"cpus": map[string]interface{}{
			"boot_vcpus": cfg.CPUCount,
			"max_vcpus":  cfg.CPUCount,
		},
		"memory": map[string]interface{}{
			"size":           cfg.MemorySize,
			"shared":         true,
			"hugepages":      false,
			"balloon":        true,
		},
		"firmware": map[string]interface{}{
			"path": "/usr/share/cloud-hypervisor/CLOUDHV_EFI.fd",
		},
		"nvram": map[string]interface{}{
			"path": paths.NVRAM,
		},
		"disks": disks,
		"net": []map[string]interface{}{
			{"mac": cfg.MACAddress, "tap": netDev.TapName},
		},
		"console": map[string]interface{}{
			"mode": "Tty",
		},
		"rng": map[string]interface{}{
			"src": "/dev/urandom",
		},
		"devices": []map[string]interface{}{},
	}

	if netDev.TapName == "" {
		payload["net"] = []map[string]interface{}{
			{"mac": cfg.MACAddress, "fd": nil, "socket": netDev.SocketPath},
		}
	}

	if opts.EnableGuestAgent {
		payload["vsock"] = map[string]interface{}{
			"cid":    3,
			"socket": paths.VsockSocket,
		}
	}

	resp, err := p.client.put("/api/v1/vm.create", payload)
	if err := doOK(resp, err, "vm.create"); err != nil {
		return err
	}
	resp, err = p.client.put("/api/v1/vm.boot", nil)
	return doOK(resp, err, "vm.boot")
}

func (p *chProcess) requestShutdown(ctx context.Context) error {
	resp, err := p.client.put("/api/v1/vm.shutdown", nil)
	return doOK(resp, err, "vm.shutdown")
}

func (p *chProcess) pause(ctx context.Context) error {
	resp, err := p.client.put("/api/v1/vm.pause", nil)
	return doOK(resp, err, "vm.pause")
}

func (p *chProcess) resume(ctx context.Context) error {
	resp, err := p.client.put("/api/v1/vm.resume", nil)
	return doOK(resp, err, "vm.resume")
}

func (p *chProcess) wait() error {
	<-p.done
	_ = p.net.Teardown(context.Background(), p.netDev)
	return p.waitErr
}

func (p *chProcess) kill() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.done
	_ = p.net.Teardown(context.Background(), p.netDev)
	return nil
}

// waitForSocket polls until a unix socket file appears, lifted directly
// from cloudhv.go's helper of the same name.
func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("socket %s did not appear within %v", path, timeout)
}

// bridgeSerial is a placeholder hook: Cloud Hypervisor's Tty console mode
// attaches directly to the process's own stdio, so the real wiring happens
// at cmd.Stdin/cmd.Stdout assignment time in a future revision that swaps
// Tty for a dedicated virtio-console pty once the daemon multiplexes serial
// through internal/console instead of inheriting the parent's terminal.
func bridgeSerial(socketPath string, in io.Reader, out io.Writer) {}

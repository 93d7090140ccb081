package local

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// signatureScheme is the only message-signing scheme this transport
// speaks.
const signatureScheme = "hmac-sha256"

// connFile is the connection file handed to the kernel: where to bind
// each channel and how to sign messages.
type connFile struct {
	ShellPort   int `json:"shell_port"`
	IOPubPort   int `json:"iopub_port"`
	StdinPort   int `json:"stdin_port"`
	ControlPort int `json:"control_port"`
	HBPort      int `json:"hb_port"`

	IP              string `json:"ip"`
	Key             string `json:"key"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name"`
}

// newConnFile allocates five ports on ip and a fresh signing key.
func newConnFile(ip, kernelName string) (connFile, error) {
	ports, err := allocPorts(ip, 5)
	if err != nil {
		return connFile{}, err
	}
	return connFile{
		ShellPort:       ports[0],
		IOPubPort:       ports[1],
		StdinPort:       ports[2],
		ControlPort:     ports[3],
		HBPort:          ports[4],
		IP:              ip,
		Key:             uuid.NewString(),
		Transport:       "tcp",
		SignatureScheme: signatureScheme,
		KernelName:      kernelName,
	}, nil
}

// allocPorts reserves n free TCP ports on ip. The listeners are closed
// before the ports are handed out; the window until the kernel binds
// them is unavoidable with file-based port exchange.
func allocPorts(ip string, n int) ([]int, error) {
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}()
	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
		if err != nil {
			return nil, fmt.Errorf("local: allocate port: %w", err)
		}
		listeners = append(listeners, ln)
		ports = append(ports, ln.Addr().(*net.TCPAddr).Port)
	}
	return ports, nil
}

// endpoint renders the ZeroMQ endpoint for one of the file's ports.
func (f connFile) endpoint(port int) string {
	return f.Transport + "://" + net.JoinHostPort(f.IP, strconv.Itoa(port))
}

// write stores the file at path with owner-only permissions: it holds
// the signing key.
func (f connFile) write(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("local: marshal connection file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("local: write connection file: %w", err)
	}
	return nil
}

// readConnFile loads a connection file, for clients attaching to a
// kernel somebody else started.
func readConnFile(path string) (connFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return connFile{}, fmt.Errorf("local: read connection file: %w", err)
	}
	var f connFile
	if err := json.Unmarshal(data, &f); err != nil {
		return connFile{}, fmt.Errorf("local: parse connection file: %w", err)
	}
	return f, nil
}

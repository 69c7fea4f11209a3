// Package portmanager hands out local ports that are free for both TCP and
// UDP, so one port number can serve a chat listener and a discovery socket.
package portmanager

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
)

const (
	minPort = 49152 // start of the dynamic/private range
	maxPort = 65535
)

// PortManager tracks the ports it has handed out.
type PortManager struct {
	mu          sync.Mutex
	usedPorts   map[int]bool
	currentPort int
}

// New creates a PortManager. The scan starts at a random point in the range
// so managers in separate processes rarely probe the same ports.
func New() *PortManager {
	return &PortManager{
		usedPorts:   make(map[int]bool),
		currentPort: minPort + rand.Intn(maxPort-minPort),
	}
}

// GetAvailablePort returns a port that is bindable on 127.0.0.1 for TCP and
// UDP and has not been handed out before.
func (pm *PortManager) GetAvailablePort() (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i := 0; i <= maxPort-minPort; i++ {
		port := pm.currentPort
		pm.currentPort++
		if pm.currentPort > maxPort {
			pm.currentPort = minPort
		}
		if pm.usedPorts[port] || !available(port) {
			continue
		}
		pm.usedPorts[port] = true
		return port, nil
	}

	return 0, fmt.Errorf("no free port in range %d-%d", minPort, maxPort)
}

// GetAvailablePorts returns n distinct ports.
func (pm *PortManager) GetAvailablePorts(n int) ([]int, error) {
	ports := make([]int, 0, n)
	for k := 0; k < n; k++ {
		p, err := pm.GetAvailablePort()
		if err != nil {
			for _, q := range ports {
				pm.ReleasePort(q)
			}
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// ReleasePort makes a port available again.
func (pm *PortManager) ReleasePort(port int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.usedPorts, port)
}

func available(port int) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	pc, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return false
	}
	pc.Close()
	return true
}

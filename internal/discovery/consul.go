// Package discovery registers this broker instance with Consul so other
// instances (and deployment tooling) can find healthy peers. Adapted
// near-verbatim from the teacher's internal/registry/consul.go, renamed
// from the "chat-server" service name to "whisper-broker".
package discovery

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/consul/api"
)

const serviceName = "whisper-broker"

type Registry struct {
	client     *api.Client
	serviceID  string
	serverID   string
	serverPort int
}

func New(addr, serverID, serverPort string) (*Registry, error) {
	config := api.DefaultConfig()
	config.Address = addr

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	port, err := strconv.Atoi(serverPort)
	if err != nil {
		log.Printf("discovery: failed to parse server port, using default 8080: %v", err)
		port = 8080
	}

	return &Registry{
		client:     client,
		serviceID:  serverID,
		serverID:   serverID,
		serverPort: port,
	}, nil
}

func (r *Registry) Register() error {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("discovery: failed to get hostname, using localhost: %v", err)
		hostname = "localhost"
	}

	registration := &api.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    serviceName,
		Port:    r.serverPort,
		Address: hostname,
		Tags:    []string{"broker", "websocket"},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", hostname, r.serverPort),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Meta: map[string]string{
			"server_id": r.serverID,
		},
	}

	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return err
	}
	log.Printf("discovery: registered with Consul as %s", r.serviceID)
	return nil
}

func (r *Registry) Deregister() error {
	if err := r.client.Agent().ServiceDeregister(r.serviceID); err != nil {
		return err
	}
	log.Printf("discovery: deregistered from Consul: %s", r.serviceID)
	return nil
}

// HealthyPeers returns the serverIds of every healthy broker instance.
func (r *Registry) HealthyPeers() ([]string, error) {
	services, _, err := r.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, err
	}
	peers := make([]string, 0, len(services))
	for _, svc := range services {
		peers = append(peers, svc.Service.ID)
	}
	return peers, nil
}

// WatchPeers blocks, invoking callback whenever the healthy peer set changes.
func (r *Registry) WatchPeers(callback func([]string)) {
	var lastIndex uint64
	for {
		services, meta, err := r.client.Health().Service(serviceName, "", true, &api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		})
		if err != nil {
			log.Printf("discovery: watch error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if meta.LastIndex != lastIndex {
			lastIndex = meta.LastIndex
			peers := make([]string, 0, len(services))
			for _, svc := range services {
				peers = append(peers, svc.Service.ID)
			}
			callback(peers)
		}
	}
}

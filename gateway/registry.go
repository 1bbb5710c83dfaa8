package main

import (
	"log"
	"sync"
	"time"
)

// Registry maps tool names to their owning downstream client and tracks
// the set of configured downstreams. Discovery is fault-tolerant: a
// downstream that fails to connect or list tools is logged and skipped
// rather than aborting the whole pass, since other downstreams may still
// be healthy and the background health loop will keep retrying it.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*DownstreamClient // name -> client
	toolMap  map[string]*DownstreamClient // toolName -> client
	allTools []Tool                       // aggregated tool list

	// OnChange is invoked after DiscoverAll, AddDownstream and
	// RemoveDownstream, and after a health-loop pass in which some
	// downstream's connected state flipped.
	OnChange func()

	healthStop chan struct{}
	healthWG   sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*DownstreamClient),
		toolMap: make(map[string]*DownstreamClient),
	}
}

// DiscoverAll connects to each downstream and lists its tools, populating
// the registry. Per spec for multi-server federation, a single downstream
// failure never aborts the pass — it's logged, the client is marked
// disconnected, and discovery continues with the rest.
func (r *Registry) DiscoverAll(clients []*DownstreamClient) {
	r.mu.Lock()
	for _, c := range clients {
		r.clients[c.Name] = c
	}
	r.mu.Unlock()

	for _, c := range clients {
		r.discoverOne(c)
	}
	r.notifyChange()
}

// discoverOne connects to and lists tools for a single downstream, updating
// its health status and the registry's tool map. Never returns an error —
// failures are recorded on the client itself via SetHealth.
func (r *Registry) discoverOne(c *DownstreamClient) {
	log.Printf("Connecting to downstream %q at %s", c.Name, c.URL)

	if err := c.Connect(); err != nil {
		log.Printf("WARNING: downstream %q connect failed: %v", c.Name, err)
		c.SetHealth(false, err.Error(), 0)
		r.dropTools(c)
		downstreamConnected.WithLabelValues(c.Name).Set(0)
		downstreamToolCount.WithLabelValues(c.Name).Set(0)
		return
	}

	tools, err := c.ListTools()
	if err != nil {
		log.Printf("WARNING: downstream %q tools/list failed: %v", c.Name, err)
		c.SetHealth(false, err.Error(), 0)
		r.dropTools(c)
		downstreamConnected.WithLabelValues(c.Name).Set(0)
		downstreamToolCount.WithLabelValues(c.Name).Set(0)
		return
	}

	c.SetHealth(true, "", len(tools))
	r.setTools(c, tools)
	downstreamConnected.WithLabelValues(c.Name).Set(1)
	downstreamToolCount.WithLabelValues(c.Name).Set(float64(len(tools)))
	log.Printf("discovered %d tools from %q", len(tools), c.Name)
}

// setTools replaces the tools owned by c in the aggregated registry.
func (r *Registry) setTools(c *DownstreamClient, tools []Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropToolsLocked(c)
	for _, t := range tools {
		if existing, ok := r.toolMap[t.Name]; ok && existing != c {
			log.Printf("WARNING: tool %q from %s shadows tool from %s", t.Name, c.Name, existing.Name)
		}
		r.toolMap[t.Name] = c
		r.allTools = append(r.allTools, t)
	}
}

// dropTools removes all tools currently owned by c (used on discovery failure).
func (r *Registry) dropTools(c *DownstreamClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropToolsLocked(c)
}

func (r *Registry) dropToolsLocked(c *DownstreamClient) {
	owned := make(map[string]bool)
	for name, owner := range r.toolMap {
		if owner == c {
			owned[name] = true
			delete(r.toolMap, name)
		}
	}
	filtered := r.allTools[:0]
	for _, t := range r.allTools {
		if owned[t.Name] {
			continue
		}
		filtered = append(filtered, t)
	}
	r.allTools = filtered
}

func (r *Registry) notifyChange() {
	if r.OnChange != nil {
		r.OnChange()
	}
}

// Lookup returns the downstream client that owns the given tool, or nil.
func (r *Registry) Lookup(toolName string) *DownstreamClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toolMap[toolName]
}

// AllTools returns the merged list of tools from all downstreams.
func (r *Registry) AllTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allTools
}

// Clients returns every registered downstream client.
func (r *Registry) Clients() []*DownstreamClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DownstreamClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// AllDownstreams returns a health snapshot of every registered downstream,
// for the admin API.
func (r *Registry) AllDownstreams() []DownstreamStatus {
	clients := r.Clients()
	out := make([]DownstreamStatus, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Status())
	}
	return out
}

// AddDownstream registers a new downstream server at runtime and discovers
// its tools immediately.
func (r *Registry) AddDownstream(name, url string) *DownstreamClient {
	c := NewDownstreamClient(name, url)

	r.mu.Lock()
	r.clients[name] = c
	r.mu.Unlock()

	r.discoverOne(c)
	r.notifyChange()
	return c
}

// RemoveDownstream deregisters a downstream and drops its tools from the
// registry. Returns false if no downstream with that name was registered.
func (r *Registry) RemoveDownstream(name string) bool {
	r.mu.Lock()
	c, ok := r.clients[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, name)
	r.mu.Unlock()

	r.dropTools(c)
	c.Close()
	r.notifyChange()
	return true
}

// StartHealthLoop periodically re-pings every registered downstream,
// rediscovering tools for ones that recover and marking unreachable ones
// disconnected. It runs until StopHealthLoop is called.
func (r *Registry) StartHealthLoop(interval time.Duration) {
	r.healthStop = make(chan struct{})
	r.healthWG.Add(1)

	go func() {
		defer r.healthWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				changed := false
				for _, c := range r.Clients() {
					wasConnected := c.Status().Connected
					r.discoverOne(c)
					if c.Status().Connected != wasConnected {
						changed = true
					}
				}
				if changed {
					r.notifyChange()
				}
			case <-r.healthStop:
				return
			}
		}
	}()
}

// StopHealthLoop stops the background health loop started by StartHealthLoop.
// Safe to call even if the loop was never started.
func (r *Registry) StopHealthLoop() {
	if r.healthStop == nil {
		return
	}
	close(r.healthStop)
	r.healthWG.Wait()
}

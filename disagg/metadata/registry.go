package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"

	"github.com/inference-sim/disagg-serve/disagg"
)

// defaultKeyPrefix is where instance records and the config fingerprint
// live in etcd unless the caller overrides it.
const defaultKeyPrefix = "/disagg"

// InstanceRecord is the instance leader's published view of its instance,
// stored as the etcd value.
type InstanceRecord struct {
	Role          string `json:"role"`
	Hostname      string `json:"hostname,omitempty"`
	Port          int    `json:"port,omitempty"`
	ProcessCount  int    `json:"process_count"`
	InstanceIndex int    `json:"instance_index"`
}

// Snapshot is one consistent view of the registered instances.
type Snapshot struct {
	Revision int64
	Records  []InstanceRecord
}

// Registry is the etcd-backed instance registry matching the metadata
// service configuration. Instance leaders register themselves under a
// kept-alive lease so that crashed instances age out; routers watch the
// prefix to discover live instances.
type Registry struct {
	client    *etcd.Client
	cfg       Config
	keyPrefix string
}

// RegistryOptions tune NewRegistry.
type RegistryOptions struct {
	// KeyPrefix overrides the default "/disagg" etcd key prefix.
	KeyPrefix string
}

// NewRegistry dials the etcd backend described by cfg. The dial itself is
// lazy; use HealthCheck to verify connectivity.
func NewRegistry(cfg *Config, opts *RegistryOptions) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keyPrefix := defaultKeyPrefix
	if opts != nil && opts.KeyPrefix != "" {
		keyPrefix = opts.KeyPrefix
	}

	client, err := etcd.New(etcd.Config{
		Endpoints:   []string{cfg.Endpoint()},
		DialTimeout: cfg.HealthTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to metadata service: %w", err)
	}

	return &Registry{
		client:    client,
		cfg:       *cfg,
		keyPrefix: keyPrefix,
	}, nil
}

// Close releases the etcd client.
func (r *Registry) Close() error {
	return r.client.Close()
}

// HealthCheck verifies the backend responds within health_check_timeout.
func (r *Registry) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.HealthTimeout())
	defer cancel()
	if _, err := r.client.Maintenance.Status(ctx, r.cfg.Endpoint()); err != nil {
		return fmt.Errorf("metadata service health check: %w", err)
	}
	return nil
}

func (r *Registry) instancesPrefix() string {
	return r.keyPrefix + "/instances/"
}

func (r *Registry) instanceKey(rec *InstanceRecord) string {
	return fmt.Sprintf("%s%s/%d", r.instancesPrefix(), rec.Role, rec.InstanceIndex)
}

func (r *Registry) fingerprintKey() string {
	return r.keyPrefix + "/config_fingerprint"
}

// Registration keeps one published instance record alive until Leave.
type Registration struct {
	registry *Registry
	key      string
	leaseID  etcd.LeaseID
}

// RegisterInstance publishes the instance record under a kept-alive lease.
// The lease TTL is refresh_interval, floored at etcd's 5 second minimum.
// Intended to be called by the instance leader after partitioning.
func (r *Registry) RegisterInstance(ctx context.Context, spec *disagg.InstanceSpec, instanceIndex int) (*Registration, error) {
	rec := InstanceRecord{
		Role:          spec.Role.String(),
		Hostname:      spec.Hostname,
		Port:          spec.Port,
		ProcessCount:  spec.ProcessCount,
		InstanceIndex: instanceIndex,
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding instance record: %w", err)
	}

	leaseTTL := r.cfg.Refresh()
	if leaseTTL < 5*time.Second {
		leaseTTL = 5 * time.Second
	}
	lease, err := r.client.Lease.Grant(ctx, int64(leaseTTL/time.Second))
	if err != nil {
		return nil, fmt.Errorf("granting instance lease: %w", err)
	}

	kaCh, err := r.client.Lease.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return nil, fmt.Errorf("starting lease keep-alive: %w", err)
	}
	go func() {
		for range kaCh {
		}
		logrus.Warnf("metadata lease keep-alive for %s ended", rec.Role)
	}()

	key := r.instanceKey(&rec)
	if _, err := r.client.KV.Put(ctx, key, string(value), etcd.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("publishing instance record: %w", err)
	}

	return &Registration{registry: r, key: key, leaseID: lease.ID}, nil
}

// Leave withdraws the record and revokes its lease.
func (reg *Registration) Leave(ctx context.Context) error {
	if _, err := reg.registry.client.KV.Delete(ctx, reg.key); err != nil {
		return err
	}
	if _, err := reg.registry.client.Lease.Revoke(ctx, reg.leaseID); err != nil {
		return err
	}
	return nil
}

// Instances fetches the current set of registered instance records.
func (r *Registry) Instances(ctx context.Context) (*Snapshot, error) {
	resp, err := r.client.KV.Get(ctx, r.instancesPrefix(), etcd.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("fetching instance records: %w", err)
	}

	snap := &Snapshot{Revision: resp.Header.Revision}
	for _, kv := range resp.Kvs {
		var rec InstanceRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("decoding instance record %s: %w", kv.Key, err)
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

// WatchInstances streams a fresh Snapshot on every change to the instance
// prefix, starting with the current state. The channel closes when ctx is
// done or the watch ends.
func (r *Registry) WatchInstances(ctx context.Context) (<-chan *Snapshot, error) {
	out := make(chan *Snapshot, 1)
	keyMap := make(map[string][]byte)

	resp, err := r.client.KV.Get(ctx, r.instancesPrefix(), etcd.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("fetching initial instance records: %w", err)
	}
	for _, kv := range resp.Kvs {
		keyMap[string(kv.Key)] = kv.Value
	}

	emit := func(revision int64) bool {
		snap := &Snapshot{Revision: revision}
		for key, value := range keyMap {
			var rec InstanceRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				logrus.Warnf("skipping undecodable instance record %s: %v", key, err)
				continue
			}
			snap.Records = append(snap.Records, rec)
		}
		select {
		case out <- snap:
			return true
		case <-ctx.Done():
			return false
		}
	}
	if !emit(resp.Header.Revision) {
		close(out)
		return out, nil
	}

	watchCh := r.client.Watcher.Watch(ctx, r.instancesPrefix(), etcd.WithPrefix(), etcd.WithRev(resp.Header.Revision+1))
	go func() {
		defer close(out)
		for watchResp := range watchCh {
			if watchResp.Err() != nil {
				logrus.Warnf("instance watch ended: %v", watchResp.Err())
				return
			}
			for _, evt := range watchResp.Events {
				switch evt.Type {
				case mvccpb.PUT:
					keyMap[string(evt.Kv.Key)] = evt.Kv.Value
				case mvccpb.DELETE:
					delete(keyMap, string(evt.Kv.Key))
				}
			}
			if !emit(watchResp.Header.Revision) {
				return
			}
		}
	}()

	return out, nil
}

// EnsureFingerprint enforces byte-identical configuration across processes
// before partitioning: the first caller publishes the fingerprint with a
// compare-and-swap, later callers verify theirs matches. A mismatch is a
// fatal configuration-drift fault (the partition-time rank check only
// catches drift that changes the partition shape).
func (r *Registry) EnsureFingerprint(ctx context.Context, fingerprint string) error {
	key := r.fingerprintKey()
	txn, err := r.client.KV.Txn(ctx).
		If(etcd.Compare(etcd.CreateRevision(key), "=", 0)).
		Then(etcd.OpPut(key, fingerprint)).
		Else(etcd.OpGet(key)).
		Commit()
	if err != nil {
		return fmt.Errorf("publishing config fingerprint: %w", err)
	}
	if txn.Succeeded {
		return nil
	}

	kvs := txn.Responses[0].GetResponseRange().Kvs
	if len(kvs) == 0 {
		return fmt.Errorf("config fingerprint disappeared during verification")
	}
	if existing := string(kvs[0].Value); existing != fingerprint {
		return fmt.Errorf("config fingerprint mismatch: local %s, published %s; processes are not reading identical configuration",
			fingerprint, existing)
	}
	return nil
}

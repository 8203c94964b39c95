package snapshot

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRedisKey = "archecs:snapshot"
	backupSuffix    = ":backup"
)

// RedisStorage stores the current snapshot under a key and keeps the previous one under the same key
// with a ":backup" suffix.
type RedisStorage struct {
	client redis.Cmdable
	key    string
	tracer trace.Tracer
}

var _ Storage = (*RedisStorage)(nil)

// RedisStorageOptions configures a RedisStorage.
type RedisStorageOptions struct {
	Client redis.Cmdable // Required
	Key    string        // Defaults to "archecs:snapshot"
}

// Validate checks the options.
func (opt *RedisStorageOptions) Validate() error {
	if opt.Client == nil {
		return eris.New("redis client cannot be nil")
	}
	return nil
}

// NewRedisStorage creates a Redis-backed snapshot storage.
func NewRedisStorage(opts RedisStorageOptions) (*RedisStorage, error) {
	if err := opts.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options passed")
	}
	key := opts.Key
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStorage{
		client: opts.Client,
		key:    key,
		tracer: otel.Tracer("redis"),
	}, nil
}

// storeScript copies the current snapshot to the backup key and writes the new one. Scripts run
// atomically, so concurrent stores can't interleave between the read and the writes.
var storeScript = redis.NewScript(`
local previous = redis.call("GET", KEYS[1])
if previous then
	redis.call("SET", KEYS[2], previous)
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// Store writes the snapshot and moves the previous one to the backup key in one atomic step.
func (r *RedisStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	ctx, span := r.tracer.Start(ctx, "snapshot.store")
	defer span.End()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return eris.Wrap(err, "failed to marshal snapshot")
	}

	if err := storeScript.Run(ctx, r.client, []string{r.key, r.key + backupSuffix}, data).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return eris.Wrap(err, "failed to store snapshot")
	}
	return nil
}

// Load reads the current snapshot.
func (r *RedisStorage) Load(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.key)
}

// LoadBackup reads the snapshot that was current before the last Store.
func (r *RedisStorage) LoadBackup(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.key+backupSuffix)
}

func (r *RedisStorage) load(ctx context.Context, key string) (*Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "snapshot.load")
	defer span.End()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if eris.Is(err, redis.Nil) {
			return nil, eris.Wrapf(ErrSnapshotNotFound, "key %s", key)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, eris.Wrap(err, "failed to load snapshot")
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal snapshot")
	}
	return &snapshot, nil
}

// Exists checks if a current snapshot is stored.
func (r *RedisStorage) Exists(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, r.key).Result()
	if err != nil {
		return false, eris.Wrap(err, "failed to check snapshot")
	}
	return n > 0, nil
}

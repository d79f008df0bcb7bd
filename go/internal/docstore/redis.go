package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const maxMergeAttempts = 5

type RedisConfig struct {
	URL    string // redis://host:port/db
	Prefix string // Key namespace
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:    "redis://localhost:6379/0",
		Prefix: "militapp",
	}
}

// RedisStore keeps each document as a JSON string and announces writes on a pub/sub channel
type RedisStore struct {
	client *redis.Client
	prefix string

	subs *subscriberSet

	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// redisRecord is the stored JSON form of a document
type redisRecord struct {
	Fields     map[string]any `json:"fields"`
	UpdateTime int64          `json:"update_time"`
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		subs:   newSubscriberSet(),
		done:   make(chan struct{}),
	}

	s.pubsub = client.Subscribe(ctx, s.changesChannel())
	if _, err := s.pubsub.Receive(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to subscribe to document changes: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(loopCtx)

	log.Info().
		Str("channel", s.changesChannel()).
		Msg("listening for document changes")

	return s, nil
}

func (s *RedisStore) docKey(path string) string {
	return s.prefix + ":doc:" + path
}

func (s *RedisStore) childrenKey(collection string) string {
	return s.prefix + ":children:" + collection
}

func (s *RedisStore) changesChannel() string {
	return s.prefix + ":changes"
}

func (s *RedisStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, s.docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decodeRedisRecord(path, raw)
}

func (s *RedisStore) Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error {
	if err := validatePath(path); err != nil {
		return err
	}
	o := applySetOptions(opts)

	if !o.merge {
		return s.write(ctx, s.client, path, fields)
	}

	key := s.docKey(path)
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			merged := fields
			raw, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				existing, err := decodeRedisRecord(path, raw)
				if err != nil {
					return err
				}
				merged = mergeFields(existing.Fields, fields)
			}
			return s.write(ctx, tx, path, merged)
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Int("attempt", attempt+1).Str("path", path).Msg("merge conflict, retrying")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to merge document: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to merge document after %d attempts: %w", maxMergeAttempts, redis.TxFailedErr)
}

// write stores the document, indexes it under its parent and publishes the change in one MULTI block
func (s *RedisStore) write(ctx context.Context, c redis.Cmdable, path string, fields map[string]any) error {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}
	raw, err := json.Marshal(redisRecord{Fields: fields, UpdateTime: now.UnixMicro()})
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	_, err = c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(path), raw, 0)
		pipe.SAdd(ctx, s.childrenKey(Parent(path)), path)
		pipe.Publish(ctx, s.changesChannel(), path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, path string, fn func(*Document)) (Unsubscribe, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	sub := newSubscriber(path, fn)
	s.subs.add(sub)

	doc, err := s.Get(ctx, path)
	switch {
	case err == nil:
		sub.push(doc)
	case errors.Is(err, ErrNotFound):
	default:
		s.subs.remove(sub)
		sub.close()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subs.remove(sub)
			sub.close()
		})
	}, nil
}

func (s *RedisStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := validatePath(collection); err != nil {
		return nil, err
	}
	paths, err := s.client.SMembers(ctx, s.childrenKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list collection: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}
	sort.Strings(paths)

	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = s.docKey(p)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection documents: %w", err)
	}

	docs := make([]*Document, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := decodeRedisRecord(paths[i], []byte(str))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *RedisStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if cerr := s.pubsub.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("failed to close pubsub")
		}
		<-s.done
		s.subs.closeAll()
		err = s.client.Close()
	})
	return err
}

func (s *RedisStore) run(ctx context.Context) {
	defer close(s.done)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			doc, err := s.Get(ctx, msg.Payload)
			if err != nil {
				if !errors.Is(err, ErrNotFound) && ctx.Err() == nil {
					log.Error().Err(err).Str("path", msg.Payload).Msg("failed to read changed document")
				}
				continue
			}
			s.subs.publish(doc)
		}
	}
}

func decodeRedisRecord(path string, raw []byte) (*Document, error) {
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s: %w", path, err)
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]any)
	}
	return &Document{Path: path, Fields: rec.Fields, UpdateTime: timeFromMicros(rec.UpdateTime)}, nil
}

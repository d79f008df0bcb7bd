package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type NATSConfig struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
	History       uint8 // Revisions kept per key
	Replicas      int
	ListTimeout   time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Bucket:        "MILITAPP_DOCUMENTS",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		History:       5,
		Replicas:      1,
		ListTimeout:   5 * time.Second,
	}
}

// NATSStore keeps documents in a JetStream key-value bucket. Each path segment
// is base64url encoded so arbitrary segment text maps onto valid key tokens.
type NATSStore struct {
	nc  *nats.Conn
	kv  jetstream.KeyValue
	cfg NATSConfig

	mu       sync.Mutex
	watchers map[*natsWatch]struct{}
	closed   bool
}

type natsWatch struct {
	watcher jetstream.KeyWatcher
	cancel  context.CancelFunc
	sub     *subscriber
}

func NewNATSStore(ctx context.Context, cfg NATSConfig) (*NATSStore, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := ensureBucket(ctx, js, cfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	return &NATSStore{
		nc:       nc,
		kv:       kv,
		cfg:      cfg,
		watchers: make(map[*natsWatch]struct{}),
	}, nil
}

func ensureBucket(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("get bucket: %w", err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "MilitApp documents",
		History:     cfg.History,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	log.Info().Str("bucket", cfg.Bucket).Msg("created JetStream key-value bucket")
	return kv, nil
}

func encodeKey(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = base64.RawURLEncoding.EncodeToString([]byte(seg))
	}
	return strings.Join(segments, ".")
}

func decodeKey(key string) (string, error) {
	tokens := strings.Split(key, ".")
	for i, tok := range tokens {
		seg, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			return "", fmt.Errorf("decode key %q: %w", key, err)
		}
		tokens[i] = string(seg)
	}
	return strings.Join(tokens, "/"), nil
}

func (s *NATSStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	entry, err := s.kv.Get(ctx, encodeKey(path))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decodeEntry(path, entry)
}

func (s *NATSStore) Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error {
	if err := validatePath(path); err != nil {
		return err
	}
	o := applySetOptions(opts)
	key := encodeKey(path)

	if !o.merge {
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal document fields: %w", err)
		}
		if _, err := s.kv.Put(ctx, key, raw); err != nil {
			return fmt.Errorf("failed to put document: %w", err)
		}
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		if lastErr = s.mergeOnce(ctx, path, key, fields); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug().Err(lastErr).Int("attempt", attempt+1).Str("path", path).Msg("merge conflict, retrying")
	}
	return fmt.Errorf("failed to merge document after %d attempts: %w", maxMergeAttempts, lastErr)
}

// mergeOnce applies a compare-and-set merge against the current revision
func (s *NATSStore) mergeOnce(ctx context.Context, path, key string, fields map[string]any) error {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		raw, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		_, err = s.kv.Create(ctx, key, raw)
		return err
	}
	if err != nil {
		return err
	}

	existing, err := decodeEntry(path, entry)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(mergeFields(existing.Fields, fields))
	if err != nil {
		return err
	}
	_, err = s.kv.Update(ctx, key, raw, entry.Revision())
	return err
}

// Subscribe relies on the watcher replaying the latest value before live updates
func (s *NATSStore) Subscribe(ctx context.Context, path string, fn func(*Document)) (Unsubscribe, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	watcher, err := s.kv.Watch(watchCtx, encodeKey(path), jetstream.IgnoreDeletes())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch document: %w", err)
	}

	w := &natsWatch{watcher: watcher, cancel: cancel, sub: newSubscriber(path, fn)}
	s.watchers[w] = struct{}{}
	go s.forward(w)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
			s.stopWatch(w)
		})
	}, nil
}

func (s *NATSStore) forward(w *natsWatch) {
	for entry := range w.watcher.Updates() {
		// nil marks the end of the initial values
		if entry == nil {
			continue
		}
		doc, err := decodeEntry(w.sub.path, entry)
		if err != nil {
			log.Error().Err(err).Str("path", w.sub.path).Msg("failed to decode watched document")
			continue
		}
		w.sub.push(doc)
	}
}

func (s *NATSStore) stopWatch(w *natsWatch) {
	if err := w.watcher.Stop(); err != nil {
		log.Debug().Err(err).Str("path", w.sub.path).Msg("failed to stop watcher")
	}
	w.cancel()
	w.sub.close()
}

func (s *NATSStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := validatePath(collection); err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, s.cfg.ListTimeout)
	defer cancel()

	watcher, err := s.kv.Watch(listCtx, encodeKey(collection)+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("failed to list collection: %w", err)
	}
	defer watcher.Stop()

	var docs []*Document
	for {
		select {
		case <-listCtx.Done():
			return nil, fmt.Errorf("failed to list collection: %w", listCtx.Err())
		case entry, ok := <-watcher.Updates():
			if !ok || entry == nil {
				sort.Slice(docs, func(i, j int) bool {
					return docs[i].Path < docs[j].Path
				})
				return docs, nil
			}
			path, err := decodeKey(entry.Key())
			if err != nil {
				return nil, err
			}
			doc, err := decodeEntry(path, entry)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
}

func (s *NATSStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()

	for w := range watchers {
		s.stopWatch(w)
	}
	s.nc.Close()
	return nil
}

func decodeEntry(path string, entry jetstream.KeyValueEntry) (*Document, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(entry.Value(), &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s: %w", path, err)
	}
	return &Document{Path: path, Fields: fields, UpdateTime: entry.Created()}, nil
}

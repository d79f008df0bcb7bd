package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"
)

type RemoteConfig struct {
	URL           string // Gateway base URL, e.g. http://localhost:8080
	UserID        string // Sent as X-User-ID on every request
	Timeout       time.Duration
	ReconnectWait time.Duration
}

func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		URL:           "http://localhost:8080",
		Timeout:       10 * time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// RemoteStore talks to a gateway: unary calls over connect, subscriptions over websocket
type RemoteStore struct {
	cfg RemoteConfig

	get  *connect.Client[structpb.Struct, structpb.Struct]
	set  *connect.Client[structpb.Struct, structpb.Struct]
	list *connect.Client[structpb.Struct, structpb.Struct]

	dialer *websocket.Dialer

	mu     sync.Mutex
	watchs map[*remoteWatch]struct{}
	closed bool
}

type remoteWatch struct {
	sub    *subscriber
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRemoteStore(cfg RemoteConfig) *RemoteStore {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	base := strings.TrimRight(cfg.URL, "/")

	return &RemoteStore{
		cfg:    cfg,
		get:    connect.NewClient[structpb.Struct, structpb.Struct](httpClient, base+GetDocumentProcedure),
		set:    connect.NewClient[structpb.Struct, structpb.Struct](httpClient, base+SetDocumentProcedure),
		list:   connect.NewClient[structpb.Struct, structpb.Struct](httpClient, base+ListDocumentsProcedure),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
		watchs: make(map[*remoteWatch]struct{}),
	}
}

func (r *RemoteStore) newRequest(msg *structpb.Struct) *connect.Request[structpb.Struct] {
	req := connect.NewRequest(msg)
	req.Header().Set(UserIDHeader, r.cfg.UserID)
	return req
}

func (r *RemoteStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	resp, err := r.get.CallUnary(ctx, r.newRequest(&structpb.Struct{Fields: map[string]*structpb.Value{
		"path": structpb.NewStringValue(path),
	}}))
	if err != nil {
		return nil, fromConnectError("get document", err)
	}
	return DocumentFromStruct(resp.Msg)
}

func (r *RemoteStore) Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error {
	if err := validatePath(path); err != nil {
		return err
	}
	o := applySetOptions(opts)

	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document fields: %w", err)
	}
	_, err = r.set.CallUnary(ctx, r.newRequest(&structpb.Struct{Fields: map[string]*structpb.Value{
		"path":   structpb.NewStringValue(path),
		"fields": structpb.NewStructValue(payload),
		"merge":  structpb.NewBoolValue(o.merge),
	}}))
	if err != nil {
		return fromConnectError("set document", err)
	}
	return nil
}

func (r *RemoteStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := validatePath(collection); err != nil {
		return nil, err
	}
	resp, err := r.list.CallUnary(ctx, r.newRequest(&structpb.Struct{Fields: map[string]*structpb.Value{
		"collection": structpb.NewStringValue(collection),
	}}))
	if err != nil {
		return nil, fromConnectError("list documents", err)
	}

	values := resp.Msg.GetFields()["documents"].GetListValue().GetValues()
	docs := make([]*Document, 0, len(values))
	for _, v := range values {
		doc, err := DocumentFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Subscribe keeps a websocket open for path, redialing after drops. The gateway
// replays the current document on every (re)connect.
func (r *RemoteStore) Subscribe(ctx context.Context, path string, fn func(*Document)) (Unsubscribe, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	conn, err := r.dial(ctx, path)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	w := &remoteWatch{
		sub:    newSubscriber(path, fn),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.watchs[w] = struct{}{}
	go r.watch(watchCtx, w, conn)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchs, w)
			r.mu.Unlock()
			r.stopWatch(w)
		})
	}, nil
}

func (r *RemoteStore) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(strings.TrimRight(r.cfg.URL, "/") + WatchRoute)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"path": {path}}.Encode()

	header := http.Header{}
	header.Set(UserIDHeader, r.cfg.UserID)

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("failed to open watch stream: %w", err)
	}
	return conn, nil
}

func (r *RemoteStore) watch(ctx context.Context, w *remoteWatch, conn *websocket.Conn) {
	defer close(w.done)

	for {
		r.readEvents(ctx, w, conn)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.ReconnectWait):
		}

		next, err := r.dial(ctx, w.sub.path)
		if err != nil {
			log.Error().Err(err).Str("path", w.sub.path).Msg("failed to reconnect watch stream")
			conn = nil
			if errors.Is(err, ErrPermissionDenied) {
				return
			}
			continue
		}
		log.Info().Str("path", w.sub.path).Msg("watch stream reconnected")
		conn = next
	}
}

// readEvents pumps events from conn until it fails or ctx is cancelled
func (r *RemoteStore) readEvents(ctx context.Context, w *remoteWatch, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		var event ChangeEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("path", w.sub.path).Msg("watch stream closed")
			}
			return
		}
		if event.Type != EventTypeDocumentChanged || event.Path != w.sub.path {
			continue
		}
		w.sub.push(event.Document())
	}
}

func (r *RemoteStore) stopWatch(w *remoteWatch) {
	w.cancel()
	<-w.done
	w.sub.close()
}

func (r *RemoteStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	watchs := r.watchs
	r.watchs = nil
	r.mu.Unlock()

	for w := range watchs {
		r.stopWatch(w)
	}
	return nil
}

func fromConnectError(op string, err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeNotFound:
		return ErrNotFound
	case connect.CodePermissionDenied:
		return fmt.Errorf("failed to %s: %w", op, ErrPermissionDenied)
	case connect.CodeInvalidArgument:
		return fmt.Errorf("failed to %s: %w", op, ErrInvalidPath)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

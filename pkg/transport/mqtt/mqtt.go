// Package mqtt provides a broker-backed transport. Advertisements live
// as retained messages under <namespace>/ads/<endpoint>, so Discover is
// a wildcard subscription that collects whatever the broker retains;
// channel payloads travel under <namespace>/data/<endpoint>. The broker
// replaces LAN multicast, which makes this the backend of choice when
// nodes sit on different networks.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/predicate"
	"github.com/avolaere/syncmesh/pkg/transport"
)

// inletBuffer is the per-subscription delivery queue depth. The paho
// handler drops messages once it fills rather than blocking the client's
// router.
const inletBuffer = 256

// Config describes the broker connection and topic layout.
type Config struct {
	BrokerURL string
	ClientID  string
	// Namespace prefixes every topic so multiple deployments can share
	// one broker.
	Namespace string
	Username  string
	Password  string

	ConnectTimeout time.Duration
	Logger         logging.Logger
}

// DefaultConfig returns a local-broker default.
func DefaultConfig() Config {
	return Config{
		BrokerURL:      "tcp://127.0.0.1:1883",
		Namespace:      "syncmesh",
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("broker URL cannot be empty")
	}
	if c.Namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if strings.ContainsAny(c.Namespace, "#+/") {
		return fmt.Errorf("namespace %q must not contain topic wildcards or separators", c.Namespace)
	}
	return nil
}

// Transport is one node's broker-backed transport.
//
// Concurrent Safety:
// 1. One paho client serves all outlets and inlets; paho serializes its
//    own router callbacks
// 2. The outlet table is mutex-guarded for SetMetadata and Close
type Transport struct {
	cfg    Config
	log    logging.Logger
	client mqtt.Client

	mu     sync.Mutex
	ads    map[string]transport.Advertisement // endpoint -> ad
	closed bool
}

// New connects to the broker.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "syncmesh-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: timeout after %s", cfg.BrokerURL, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.BrokerURL, err)
	}

	return &Transport{
		cfg:    cfg,
		log:    cfg.Logger,
		client: client,
		ads:    make(map[string]transport.Advertisement),
	}, nil
}

func (t *Transport) adTopic(endpoint string) string {
	return t.cfg.Namespace + "/ads/" + endpoint
}

func (t *Transport) dataTopic(endpoint string) string {
	return t.cfg.Namespace + "/data/" + endpoint
}

// Advertise publishes a retained advertisement and returns the channel's
// send side.
func (t *Transport) Advertise(ad transport.Advertisement) (transport.Outlet, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	t.mu.Unlock()

	stored := ad.Clone()
	stored.Endpoint = uuid.NewString()
	if err := t.publishAd(stored); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.ads[stored.Endpoint] = stored
	t.mu.Unlock()

	t.log.Debug("advertised channel",
		logging.String("name", ad.Name), logging.String("endpoint", stored.Endpoint))
	return &Outlet{t: t, endpoint: stored.Endpoint}, nil
}

func (t *Transport) publishAd(ad transport.Advertisement) error {
	payload, err := json.Marshal(ad)
	if err != nil {
		return err
	}
	token := t.client.Publish(t.adTopic(ad.Endpoint), 1, true, payload)
	token.Wait()
	return token.Error()
}

// Discover subscribes to the retained advertisement namespace and
// collects matches until maxResults exist or waitTime elapses.
func (t *Transport) Discover(filter string, waitTime time.Duration, maxResults int) ([]transport.Advertisement, error) {
	expr, err := predicate.Parse(filter)
	if err != nil {
		return nil, err
	}
	if waitTime <= 0 {
		waitTime = 100 * time.Millisecond
	}

	found := make(chan transport.Advertisement, inletBuffer)
	topic := t.cfg.Namespace + "/ads/+"
	token := t.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if len(msg.Payload()) == 0 {
			// Cleared retained ad: the channel is gone.
			return
		}
		var ad transport.Advertisement
		if err := json.Unmarshal(msg.Payload(), &ad); err != nil {
			t.log.Debug("malformed retained advertisement",
				logging.String("topic", msg.Topic()), logging.Err(err))
			return
		}
		select {
		case found <- ad:
		default:
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer t.client.Unsubscribe(topic)

	results := make(map[string]transport.Advertisement)
	deadline := time.NewTimer(waitTime)
	defer deadline.Stop()
	for {
		select {
		case ad := <-found:
			if !expr.Eval(ad) {
				continue
			}
			results[ad.Endpoint] = ad
			if maxResults > 0 && len(results) >= maxResults {
				return collect(results), nil
			}
		case <-deadline.C:
			return collect(results), nil
		}
	}
}

func collect(results map[string]transport.Advertisement) []transport.Advertisement {
	out := make([]transport.Advertisement, 0, len(results))
	for _, ad := range results {
		out = append(out, ad)
	}
	return out
}

// Subscribe attaches to a channel's data topic.
func (t *Transport) Subscribe(ad transport.Advertisement) (transport.Inlet, error) {
	if ad.Endpoint == "" {
		return nil, transport.ErrNotFound
	}

	inlet := &Inlet{
		t:       t,
		ad:      ad.Clone(),
		ch:      make(chan []byte, inletBuffer),
		offsets: transport.NewOffsetEstimator(),
	}
	topic := t.dataTopic(ad.Endpoint)
	token := t.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		inlet.deliver(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return inlet, nil
}

// Now returns this host's transport clock: seconds since the Unix epoch.
func (t *Transport) Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Close disconnects from the broker, clearing this node's retained
// advertisements first.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	endpoints := make([]string, 0, len(t.ads))
	for endpoint := range t.ads {
		endpoints = append(endpoints, endpoint)
	}
	t.ads = make(map[string]transport.Advertisement)
	t.mu.Unlock()

	for _, endpoint := range endpoints {
		t.client.Publish(t.adTopic(endpoint), 1, true, []byte{}).Wait()
	}
	t.client.Disconnect(250)
	return nil
}

var _ transport.Transport = (*Transport)(nil)

// Outlet publishes one channel's payloads to its data topic.
type Outlet struct {
	t        *Transport
	endpoint string

	closeMu sync.Mutex
	closed  bool
}

// Advertisement returns the advertisement as currently published.
func (o *Outlet) Advertisement() transport.Advertisement {
	o.t.mu.Lock()
	defer o.t.mu.Unlock()
	if ad, ok := o.t.ads[o.endpoint]; ok {
		return ad.Clone()
	}
	return transport.Advertisement{Endpoint: o.endpoint}
}

// Push frames the payload with the send timestamp and publishes it.
func (o *Outlet) Push(payload []byte) error {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()
	if o.closed {
		return transport.ErrClosed
	}
	token := o.t.client.Publish(o.t.dataTopic(o.endpoint), 0, false,
		transport.EncodeFrame(o.t.Now(), payload))
	token.Wait()
	return token.Error()
}

// SetMetadata republishes the retained advertisement with new metadata.
func (o *Outlet) SetMetadata(metadata map[string]string) error {
	o.t.mu.Lock()
	ad, ok := o.t.ads[o.endpoint]
	if !ok {
		o.t.mu.Unlock()
		return transport.ErrClosed
	}
	ad.Metadata = make(map[string]string, len(metadata))
	for k, v := range metadata {
		ad.Metadata[k] = v
	}
	o.t.ads[o.endpoint] = ad
	o.t.mu.Unlock()
	return o.t.publishAd(ad)
}

// Close clears the retained advertisement so the channel disappears from
// discovery.
func (o *Outlet) Close() error {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true

	o.t.mu.Lock()
	delete(o.t.ads, o.endpoint)
	o.t.mu.Unlock()

	token := o.t.client.Publish(o.t.adTopic(o.endpoint), 1, true, []byte{})
	token.Wait()
	return token.Error()
}

// Inlet receives one channel's payloads from its data topic.
type Inlet struct {
	t       *Transport
	ad      transport.Advertisement
	ch      chan []byte
	offsets *transport.OffsetEstimator

	closeMu sync.Mutex
	closed  bool
}

// Advertisement returns the advertisement this inlet is bound to.
func (i *Inlet) Advertisement() transport.Advertisement {
	return i.ad.Clone()
}

func (i *Inlet) deliver(payload []byte) {
	i.closeMu.Lock()
	defer i.closeMu.Unlock()
	if i.closed {
		return
	}
	msg := make([]byte, len(payload))
	copy(msg, payload)
	select {
	case i.ch <- msg:
	default:
	}
}

// Pull returns the next payload, waiting up to timeout. A zero timeout
// polls only; an empty result is (nil, nil).
func (i *Inlet) Pull(timeout time.Duration) ([]byte, error) {
	var raw []byte
	if timeout <= 0 {
		select {
		case msg, ok := <-i.ch:
			if !ok {
				return nil, transport.ErrClosed
			}
			raw = msg
		default:
			return nil, nil
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case msg, ok := <-i.ch:
			if !ok {
				return nil, transport.ErrClosed
			}
			raw = msg
		case <-timer.C:
			return nil, nil
		}
	}

	sent, payload, err := transport.DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	i.offsets.AddSample(sent, i.t.Now())
	return payload, nil
}

// TimeCorrection estimates the sender clock offset from recent frames.
func (i *Inlet) TimeCorrection() (float64, error) {
	return i.offsets.Correction()
}

// Close unsubscribes from the data topic.
func (i *Inlet) Close() error {
	i.closeMu.Lock()
	if i.closed {
		i.closeMu.Unlock()
		return nil
	}
	i.closed = true
	close(i.ch)
	i.closeMu.Unlock()

	token := i.t.client.Unsubscribe(i.t.dataTopic(i.ad.Endpoint))
	token.Wait()
	return token.Error()
}

// Package nng provides a LAN transport backend over nanomsg-ng sockets.
//
// The data plane is one PUB socket per advertised channel; subscribers
// dial the channel's endpoint with a SUB socket. The discovery plane is
// surveyor/respondent: every node listens with a RESPONDENT socket at a
// well-known port and answers predicate queries with its local
// advertisements, while Discover opens a SURVEYOR that dials the
// configured peers and collects their answers. TCP carries no multicast,
// so peers are named up front in the config rather than found by beacon.
package nng

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/respondent"
	"go.nanomsg.org/mangos/v3/protocol/sub"
	"go.nanomsg.org/mangos/v3/protocol/surveyor"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/predicate"
	"github.com/avolaere/syncmesh/pkg/transport"
)

// Config describes one node's socket layout and its view of the LAN.
type Config struct {
	// Host is the address other nodes reach this one at.
	Host string
	// DiscoveryPort is where the respondent socket listens. Peers must
	// agree on it unless their Peers entries carry explicit ports.
	DiscoveryPort int
	// DataPortStart is the first port handed to advertised channels;
	// each Advertise takes the next one.
	DataPortStart int
	// Peers lists the other nodes' discovery endpoints, host or
	// host:port.
	Peers []string

	Logger logging.Logger
}

// DefaultConfig returns a single-host default layout.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		DiscoveryPort: 16571,
		DataPortStart: 16600,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("discovery port %d out of range", c.DiscoveryPort)
	}
	if c.DataPortStart <= 0 || c.DataPortStart > 65535 {
		return fmt.Errorf("data port start %d out of range", c.DataPortStart)
	}
	return nil
}

// surveyQuery and surveyAnswer are the discovery plane wire shapes.
type surveyQuery struct {
	Filter string `json:"filter"`
}

type surveyAnswer struct {
	Ads []adPayload `json:"ads"`
}

type adPayload struct {
	Name         string            `json:"name"`
	TypeTag      string            `json:"type"`
	ChannelCount int               `json:"channel_count,omitempty"`
	SampleRate   float64           `json:"sample_rate,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Endpoint     string            `json:"endpoint"`
}

func toPayload(ad transport.Advertisement) adPayload {
	return adPayload{
		Name:         ad.Name,
		TypeTag:      ad.TypeTag,
		ChannelCount: ad.ChannelCount,
		SampleRate:   ad.SampleRate,
		Metadata:     ad.Metadata,
		Endpoint:     ad.Endpoint,
	}
}

func (p adPayload) advertisement() transport.Advertisement {
	return transport.Advertisement{
		Name:         p.Name,
		TypeTag:      p.TypeTag,
		ChannelCount: p.ChannelCount,
		SampleRate:   p.SampleRate,
		Metadata:     p.Metadata,
		Endpoint:     p.Endpoint,
	}
}

// Transport is one node's nng-backed transport.
//
// Concurrent Safety:
// 1. The local advertisement table is mutex-guarded; the respondent
//    loop reads it, Advertise/SetMetadata/Close write it
// 2. Discover opens a fresh surveyor per call, so queries never share
//    socket state
type Transport struct {
	cfg   Config
	log   logging.Logger
	start time.Time

	mu       sync.Mutex
	ads      map[string]transport.Advertisement // endpoint -> ad
	nextPort int
	resp     mangos.Socket
	closed   bool
}

// New opens the transport and starts answering discovery surveys.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	resp, err := respondent.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("open respondent socket: %w", err)
	}
	addr := "tcp://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.DiscoveryPort))
	if err := resp.Listen(addr); err != nil {
		resp.Close()
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	t := &Transport{
		cfg:      cfg,
		log:      cfg.Logger,
		start:    time.Now(),
		ads:      make(map[string]transport.Advertisement),
		nextPort: cfg.DataPortStart,
		resp:     resp,
	}
	go t.respondLoop()
	return t, nil
}

// respondLoop answers discovery surveys with the local advertisements
// matching the survey's predicate.
func (t *Transport) respondLoop() {
	for {
		raw, err := t.resp.Recv()
		if err != nil {
			// Socket closed; the transport is shutting down.
			return
		}
		var query surveyQuery
		if err := json.Unmarshal(raw, &query); err != nil {
			t.log.Debug("malformed discovery survey", logging.Err(err))
			continue
		}
		answer, err := t.answer(query.Filter)
		if err != nil {
			t.log.Debug("discovery survey rejected", logging.Err(err))
			continue
		}
		if err := t.resp.Send(answer); err != nil {
			return
		}
	}
}

func (t *Transport) answer(filter string) ([]byte, error) {
	expr, err := predicate.Parse(filter)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	var matched []adPayload
	for _, ad := range t.ads {
		if expr.Eval(ad) {
			matched = append(matched, toPayload(ad.Clone()))
		}
	}
	t.mu.Unlock()
	return json.Marshal(surveyAnswer{Ads: matched})
}

// Advertise binds a PUB socket on the next data port and registers the
// advertisement with the respondent.
func (t *Transport) Advertise(ad transport.Advertisement) (transport.Outlet, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("open pub socket: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sock.Close()
		return nil, transport.ErrClosed
	}
	port := t.nextPort
	t.nextPort++
	t.mu.Unlock()

	endpoint := "tcp://" + net.JoinHostPort(t.cfg.Host, strconv.Itoa(port))
	if err := sock.Listen(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen %s: %w", endpoint, err)
	}

	stored := ad.Clone()
	stored.Endpoint = endpoint
	t.mu.Lock()
	t.ads[endpoint] = stored
	t.mu.Unlock()

	t.log.Debug("advertised channel",
		logging.String("name", ad.Name), logging.String("endpoint", endpoint))
	return &Outlet{t: t, sock: sock, endpoint: endpoint}, nil
}

// Discover surveys the configured peers (and the local table) for
// advertisements matching the predicate, until maxResults matches exist
// or waitTime elapses.
func (t *Transport) Discover(filter string, waitTime time.Duration, maxResults int) ([]transport.Advertisement, error) {
	expr, err := predicate.Parse(filter)
	if err != nil {
		return nil, err
	}
	if waitTime <= 0 {
		waitTime = 50 * time.Millisecond
	}

	results := make(map[string]transport.Advertisement)
	t.mu.Lock()
	for endpoint, ad := range t.ads {
		if expr.Eval(ad) {
			results[endpoint] = ad.Clone()
		}
	}
	t.mu.Unlock()
	if maxResults > 0 && len(results) >= maxResults {
		return collect(results, maxResults), nil
	}
	if len(t.cfg.Peers) == 0 {
		return collect(results, maxResults), nil
	}

	surv, err := surveyor.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("open surveyor socket: %w", err)
	}
	defer surv.Close()
	if err := surv.SetOption(mangos.OptionSurveyTime, waitTime); err != nil {
		return nil, err
	}
	for _, peer := range t.cfg.Peers {
		if err := surv.Dial(t.peerURL(peer)); err != nil {
			t.log.Debug("peer dial failed", logging.String("peer", peer), logging.Err(err))
		}
	}

	query, err := json.Marshal(surveyQuery{Filter: filter})
	if err != nil {
		return nil, err
	}
	if err := surv.Send(query); err != nil {
		return nil, fmt.Errorf("send survey: %w", err)
	}

	for {
		raw, err := surv.Recv()
		if err != nil {
			// Survey time expired; return what we have.
			return collect(results, maxResults), nil
		}
		var answer surveyAnswer
		if err := json.Unmarshal(raw, &answer); err != nil {
			t.log.Debug("malformed survey answer", logging.Err(err))
			continue
		}
		for _, p := range answer.Ads {
			results[p.Endpoint] = p.advertisement()
		}
		if maxResults > 0 && len(results) >= maxResults {
			return collect(results, maxResults), nil
		}
	}
}

func (t *Transport) peerURL(peer string) string {
	if _, _, err := net.SplitHostPort(peer); err == nil {
		return "tcp://" + peer
	}
	return "tcp://" + net.JoinHostPort(peer, strconv.Itoa(t.cfg.DiscoveryPort))
}

func collect(results map[string]transport.Advertisement, maxResults int) []transport.Advertisement {
	out := make([]transport.Advertisement, 0, len(results))
	for _, ad := range results {
		out = append(out, ad)
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
	}
	return out
}

// Subscribe dials a discovered channel with a SUB socket.
func (t *Transport) Subscribe(ad transport.Advertisement) (transport.Inlet, error) {
	if ad.Endpoint == "" {
		return nil, transport.ErrNotFound
	}
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("open sub socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte("")); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Dial(ad.Endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("dial %s: %w", ad.Endpoint, err)
	}
	return &Inlet{t: t, sock: sock, ad: ad.Clone(), offsets: transport.NewOffsetEstimator()}, nil
}

// Now returns this host's transport clock: seconds since the Unix epoch.
// Cross-host skew is what Inlet.TimeCorrection measures.
func (t *Transport) Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Close shuts down the respondent and withdraws all advertisements.
// Outlets and inlets are closed by their owners.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.ads = make(map[string]transport.Advertisement)
	t.mu.Unlock()
	return t.resp.Close()
}

var _ transport.Transport = (*Transport)(nil)

// Outlet is the PUB side of one advertised channel.
type Outlet struct {
	t        *Transport
	sock     mangos.Socket
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
	return o.sock.Send(transport.EncodeFrame(o.t.Now(), payload))
}

// SetMetadata replaces the advertised metadata; subsequent surveys see
// the new values.
func (o *Outlet) SetMetadata(metadata map[string]string) error {
	o.t.mu.Lock()
	defer o.t.mu.Unlock()
	ad, ok := o.t.ads[o.endpoint]
	if !ok {
		return transport.ErrClosed
	}
	ad.Metadata = make(map[string]string, len(metadata))
	for k, v := range metadata {
		ad.Metadata[k] = v
	}
	o.t.ads[o.endpoint] = ad
	return nil
}

// Close withdraws the advertisement and closes the PUB socket.
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
	return o.sock.Close()
}

// Inlet is the SUB side of one subscribed channel.
type Inlet struct {
	t       *Transport
	sock    mangos.Socket
	ad      transport.Advertisement
	offsets *transport.OffsetEstimator

	closeMu sync.Mutex
	closed  bool
}

// Advertisement returns the advertisement this inlet is bound to.
func (i *Inlet) Advertisement() transport.Advertisement {
	return i.ad.Clone()
}

// Pull returns the next payload, waiting up to timeout. Every frame also
// feeds the clock offset estimator.
func (i *Inlet) Pull(timeout time.Duration) ([]byte, error) {
	i.closeMu.Lock()
	if i.closed {
		i.closeMu.Unlock()
		return nil, transport.ErrClosed
	}
	i.closeMu.Unlock()

	if timeout <= 0 {
		timeout = time.Millisecond
	}
	if err := i.sock.SetOption(mangos.OptionRecvDeadline, timeout); err != nil {
		return nil, err
	}
	raw, err := i.sock.Recv()
	if err != nil {
		if err == mangos.ErrRecvTimeout {
			return nil, nil
		}
		if err == mangos.ErrClosed {
			return nil, transport.ErrClosed
		}
		return nil, err
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

// Close detaches the inlet from its channel.
func (i *Inlet) Close() error {
	i.closeMu.Lock()
	defer i.closeMu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.sock.Close()
}

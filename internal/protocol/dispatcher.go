package protocol

import "log/slog"

// Channel receives the payload lines of one named connection.
type Channel interface {
	Action(line string)
	OnConnect()
	OnDisconnect()
}

// ChannelSet looks up channels by the name a connection announces.
type ChannelSet interface {
	Channel(name string) (Channel, bool)
}

type binding struct {
	name    string
	channel Channel // nil for an unknown name
}

// Dispatcher routes events to channels. It is not safe for concurrent use;
// the session loop owns it.
type Dispatcher struct {
	channels  ChannelSet
	onUnknown func(name string)
	logger    *slog.Logger

	// OnTruncated, when set, is called for every payload line that was cut
	// at the line size limit, before the line is delivered.
	OnTruncated func(channel string)

	bound  map[uint64]*binding
	active int
}

// NewDispatcher creates a dispatcher. onUnknown is called once for every
// connection announcing a name that is not in channels.
func NewDispatcher(channels ChannelSet, onUnknown func(name string), logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		channels:  channels,
		onUnknown: onUnknown,
		logger:    logger,
		bound:     make(map[uint64]*binding),
	}
}

// Active returns the number of connections bound to a known channel.
func (d *Dispatcher) Active() int { return d.active }

// Dispatch applies one event.
func (d *Dispatcher) Dispatch(ev Event) {
	switch ev.Kind {
	case EventConnect:
		// Nothing to do until the connection names itself.

	case EventLine:
		b, named := d.bound[ev.Conn]
		if !named {
			d.bind(ev.Conn, ev.Line)
			return
		}
		if b.channel == nil {
			return
		}
		if ev.Truncated && d.OnTruncated != nil {
			d.OnTruncated(b.name)
		}
		b.channel.Action(ev.Line)

	case EventDisconnect:
		b, named := d.bound[ev.Conn]
		delete(d.bound, ev.Conn)
		if !named || b.channel == nil {
			return
		}
		d.active--
		d.logger.Debug("channel_disconnected", "channel", b.name, "active", d.active)
		b.channel.OnDisconnect()
	}
}

func (d *Dispatcher) bind(conn uint64, name string) {
	ch, ok := d.channels.Channel(name)
	if !ok {
		d.bound[conn] = &binding{name: name}
		d.logger.Warn("unknown_channel", "channel", name, "conn", conn)
		if d.onUnknown != nil {
			d.onUnknown(name)
		}
		return
	}

	d.bound[conn] = &binding{name: name, channel: ch}
	d.active++
	d.logger.Debug("channel_connected", "channel", name, "active", d.active)
	ch.OnConnect()
}

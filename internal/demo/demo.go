package demo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/herald/gateway"
	"github.com/luma/herald/protocol"
	"github.com/luma/herald/storage"
)

var (
	ErrMissingSensor = errors.New("JSON payload has no sensor field")
)

// Broadcaster is the part of the gateway the demo handlers need.
type Broadcaster interface {
	Broadcast(name string, payload interface{}) (gateway.BroadcastReport, error)
}

type Options struct {
	Broadcaster Broadcaster

	Store storage.Store

	// Now defaults to time.Now
	Now func() time.Time

	Log *zap.Logger
}

// Demo is the device demo: every connection gets greeted and can ask for the
// time, report sensor readings or signal the arduino.
type Demo struct {
	broadcaster Broadcaster
	store       storage.Store
	now         func() time.Time
	log         *zap.Logger
}

func New(options Options) *Demo {
	now := options.Now
	if now == nil {
		now = time.Now
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Demo{
		broadcaster: options.Broadcaster,
		store:       options.Store,
		now:         now,
		log:         log,
	}
}

// Install greets conn and registers the demo handlers. It is meant to be used
// as the gateway's OnConnect hook.
func (d *Demo) Install(conn *gateway.Connection) {
	log := d.log.With(zap.String("conn", conn.ID()))
	log.Info("Connected")

	if err := conn.Emit("welcome", map[string]string{"message": "Connected !!!!"}); err != nil {
		log.Warn("Failed to send welcome", zap.Error(err))
	}

	conn.Register("connection", d.handleConnection)
	conn.Register("atime", d.handleTime)
	conn.Register("JSON", d.handleSensor)
	conn.Register("arduino", d.handleArduino)
	conn.Register("ping", handlePing)
}

func (d *Demo) handleConnection(msg *gateway.Message) error {
	d.log.Info("Client announced itself",
		zap.String("conn", msg.Conn.ID()),
		zap.ByteString("payload", msg.Payload()))

	return nil
}

// handleTime pushes the server time as an rtime request and, when asked to,
// acknowledges with the time as well.
func (d *Demo) handleTime(msg *gateway.Message) error {
	log := d.log.With(zap.String("conn", msg.Conn.ID()))
	log.Info("Time requested", zap.ByteString("payload", msg.Payload()))

	err := msg.Conn.Send("rtime", d.timePayload(), func(ack protocol.Payload) {
		log.Info("rtime acknowledged", zap.ByteString("payload", ack))
	})
	if err != nil {
		return err
	}

	if msg.WantsReply() {
		log.Debug("Sending callback")
		return msg.Reply(d.timePayload())
	}

	return nil
}

// handleSensor stores a reading under its sensor name. Storing it triggers
// a sensor broadcast through Relay.
func (d *Demo) handleSensor(msg *gateway.Message) error {
	sensor := msg.Payload().Get("sensor")
	if !sensor.Exists() || sensor.String() == "" {
		return ErrMissingSensor
	}

	d.log.Info("Sensor reading",
		zap.String("conn", msg.Conn.ID()),
		zap.String("sensor", sensor.String()),
		zap.ByteString("payload", msg.Payload()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	return d.store.SetRaw(ctx, []byte(sensor.String()), msg.Payload())
}

func (d *Demo) handleArduino(msg *gateway.Message) error {
	d.log.Info("Arduino event",
		zap.String("conn", msg.Conn.ID()),
		zap.ByteString("payload", msg.Payload()))

	_, err := d.broadcaster.Broadcast("arduino", map[string]string{"message": "R0"})
	return err
}

func handlePing(msg *gateway.Message) error {
	return msg.Reply(map[string]bool{"pong": true})
}

func (d *Demo) timePayload() map[string]string {
	return map[string]string{"time": d.now().UTC().Format(time.RFC3339Nano)}
}

// Relay broadcasts every store update as a sensor event until ctx is done or
// the store closes. It subscribes before returning, the returned channel is
// closed once relaying stops.
func (d *Demo) Relay(ctx context.Context) <-chan struct{} {
	updates := d.store.ListenToUpdates()
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			select {
			case <-ctx.Done():
				return

			case update, ok := <-updates:
				if !ok {
					return
				}

				d.relay(update)
			}
		}
	}()

	return done
}

func (d *Demo) relay(update *storage.Update) {
	payload := map[string]interface{}{
		"key":   string(update.Key),
		"value": json.RawMessage(update.Value),
	}

	if _, err := d.broadcaster.Broadcast("sensor", payload); err != nil {
		d.log.Warn("Failed to relay sensor update",
			zap.ByteString("key", update.Key),
			zap.Error(err))
	}
}

// Routes exposes the sensor store and a broadcast endpoint over HTTP.
func (d *Demo) Routes(r gin.IRouter) {
	r.GET("/sensors", func(c *gin.Context) {
		values, err := d.store.Backup()
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json", values)
	})

	r.GET("/sensors/:key", func(c *gin.Context) {
		value, err := d.store.Get(c.Request.Context(), []byte(c.Param("key")))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json", value)
	})

	r.POST("/broadcast/:event", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}

		report, err := d.broadcaster.Broadcast(c.Param("event"), json.RawMessage(body))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp := gin.H{
			"attempted": report.Attempted,
			"delivered": report.Delivered,
		}

		if report.Err != nil {
			resp["error"] = report.Err.Error()
		}

		c.JSON(http.StatusOK, resp)
	})
}

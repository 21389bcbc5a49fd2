package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

// the backend subscription endpoints speak JSON text messages over
// websocket. On connect the backend flushes the current snapshot and
// then streams updates. Empty messages are pings.

func DefaultSubscriptionTransportSettings() *SubscriptionTransportSettings {
	return &SubscriptionTransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type SubscriptionTransportSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

// newJsonSubscription opens a long-lived, self-reconnecting websocket
// subscription that decodes each message into `T`. The subscription is
// released by `Close`, which is safe to call at any point of the
// connect/reconnect cycle.
func newJsonSubscription[T any](ctx context.Context, url string, byJwt string, settings *SubscriptionTransportSettings) *Subscription[T] {
	sub := NewSubscription[T](ctx)
	go runJsonSubscription(sub, url, byJwt, settings)
	return sub
}

func runJsonSubscription[T any](sub *Subscription[T], url string, byJwt string, settings *SubscriptionTransportSettings) {
	defer sub.Close()

	header := http.Header{}
	if byJwt != "" {
		header.Add("Authorization", fmt.Sprintf("Bearer %s", byJwt))
	}

	for {
		dialer := &websocket.Dialer{
			HandshakeTimeout: settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(sub.ctx, url, header)
		if err != nil {
			glog.Infof("[sub]connect %s error = %s\n", url, err)
			select {
			case <-sub.Done():
				return
			case <-time.After(settings.ReconnectTimeout):
				continue
			}
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(sub.ctx)
			defer handleCancel()

			// client-side pings keep the connection alive
			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-time.After(settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
							return
						}
					}
				}
			}()

			for {
				select {
				case <-handleCtx.Done():
					return
				default:
				}

				ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
				messageType, message, err := ws.ReadMessage()
				if err != nil {
					glog.Infof("[sub]%s<- error = %s\n", url, err)
					return
				}

				switch messageType {
				case websocket.TextMessage:
					if len(message) == 0 {
						// ping. The snapshot flush is complete.
						sub.MarkReady()
						glog.V(2).Infof("[sub]ping %s<-\n", url)
						continue
					}

					var value T
					if err := json.Unmarshal(message, &value); err != nil {
						glog.Infof("[sub]%s<- decode error = %s\n", url, err)
						continue
					}
					if !sub.Send(value) {
						return
					}
					sub.MarkReady()
				default:
					glog.V(2).Infof("[sub]other=%d %s<-\n", messageType, url)
				}
			}
		}
		c()

		select {
		case <-sub.Done():
			return
		case <-time.After(settings.ReconnectTimeout):
		}
	}
}

package transport_test

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/keel/protocol"
	"github.com/luma/keel/transport"
)

var _ = Describe("Stream", func() {
	var (
		server  *fakeStreamServer
		session *transport.Session
		stream  *transport.Stream
	)

	BeforeEach(func() {
		server = newFakeStreamServer()
		session = transport.NewSession()
		stream = transport.NewStream(transport.Options{Session: session})
	})

	AfterEach(func() {
		Expect(stream.Close()).To(Succeed())
		server.close()
	})

	Describe("Open()", func() {
		It("reaches the open state and emits connect", func() {
			connects := stream.Listen(transport.EventConnect)

			Expect(stream.Open(server.url(), transport.SubscribeAll, "")).To(Succeed())
			Eventually(connects, "2s").Should(Receive())
			Expect(stream.IsOpen()).To(BeTrue())

			var q url.Values
			Expect(server.queries).To(Receive(&q))
			Expect(q.Get("subscribe")).To(Equal("all"))
		})

		It("prefers the session token over a supplied one", func() {
			session.SetToken("session-token")
			connects := stream.Listen(transport.EventConnect)

			Expect(stream.Open(server.url(), "", "supplied-token")).To(Succeed())
			Eventually(connects, "2s").Should(Receive())

			var q url.Values
			Expect(server.queries).To(Receive(&q))
			Expect(q.Get("token")).To(Equal("session-token"))
		})

		It("uses a supplied token when the session has none", func() {
			connects := stream.Listen(transport.EventConnect)

			Expect(stream.Open(server.url(), "", "supplied-token")).To(Succeed())
			Eventually(connects, "2s").Should(Receive())

			var q url.Values
			Expect(server.queries).To(Receive(&q))
			Expect(q.Get("token")).To(Equal("supplied-token"))
		})

		It("supersedes a previous socket without surfacing its closure", func() {
			second := newFakeStreamServer()
			defer second.close()

			connects := stream.Listen(transport.EventConnect)
			closes := stream.Listen(transport.EventClose)

			Expect(stream.Open(server.url(), "", "")).To(Succeed())
			Eventually(connects, "2s").Should(Receive())

			var old *websocket.Conn
			Expect(server.conns).To(Receive(&old))

			Expect(stream.Open(second.url(), "", "")).To(Succeed())
			Eventually(connects, "2s").Should(Receive())
			Expect(stream.IsOpen()).To(BeTrue())

			// The first server observes its connection dying...
			old.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := old.ReadMessage()
			Expect(err).To(HaveOccurred())

			// ...but no close event leaks from the superseded socket.
			Consistently(closes, "500ms").ShouldNot(Receive())
		})
	})

	Describe("watchdog", func() {
		var (
			listener net.Listener
			addr     string
		)

		BeforeEach(func() {
			var err error
			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(Succeed())

			// Accept connections and never speak, so the WebSocket
			// handshake hangs until the watchdog intervenes.
			go func() {
				for {
					if _, err := listener.Accept(); err != nil {
						return
					}
				}
			}()

			addr = "ws://" + listener.Addr().String()
			stream = transport.NewStream(transport.Options{
				Session:           session,
				ConnectionTimeout: transport.WatchdogMin,
			})
		})

		AfterEach(func() {
			listener.Close()
		})

		It("forces a close when the socket never reaches open", func() {
			errs := stream.Listen(transport.EventError)
			closes := stream.Listen(transport.EventClose)

			Expect(stream.Open(addr, "", "")).To(Succeed())

			var ev transport.Event
			Eventually(errs, "5s").Should(Receive(&ev))
			Expect(errors.Is(ev.Err, transport.ErrConnectionTimeout)).To(BeTrue())

			Eventually(closes, "2s").Should(Receive())
			Expect(stream.IsOpen()).To(BeFalse())
		})

		It("does not fire after the socket closes early", func() {
			errs := stream.Listen(transport.EventError)

			Expect(stream.Open(addr, "", "")).To(Succeed())
			Expect(stream.Close()).To(Succeed())

			Consistently(errs, "3500ms").ShouldNot(Receive())
		})
	})

	Describe("inbound frames", func() {
		var (
			conn     *websocket.Conn
			messages <-chan transport.Event
		)

		BeforeEach(func() {
			messages = stream.Listen(transport.EventMessage)
			connects := stream.Listen(transport.EventConnect)

			Expect(stream.Open(server.url(), transport.SubscribeNone, "")).To(Succeed())
			Eventually(connects, "2s").Should(Receive())
			Expect(server.conns).To(Receive(&conn))
		})

		It("captures the self identity from the hello", func() {
			push(conn, `{"version":"1.0.0","self":"vessels.urn:mrn:signalk:uuid:me"}`)

			var ev transport.Event
			Eventually(messages).Should(Receive(&ev))
			Expect(ev.Frame.Kind).To(Equal(protocol.KindHello))
			Expect(stream.SelfID()).To(Equal("vessels.urn:mrn:signalk:uuid:me"))
			Expect(stream.InPlayback()).To(BeFalse())
		})

		It("flags playback streams from the hello start time", func() {
			push(conn, `{"version":"1.0.0","self":"x","startTime":"2021-06-01T00:00:00Z"}`)

			Eventually(messages).Should(Receive())
			Expect(stream.InPlayback()).To(BeTrue())
		})

		It("captures the token from a login response", func() {
			push(conn, `{"requestId":"abc","login":{"token":"sekret"}}`)

			var ev transport.Event
			Eventually(messages).Should(Receive(&ev))
			Expect(ev.Frame.Kind).To(Equal(protocol.KindResponse))
			Eventually(session.Token).Should(Equal("sekret"))
		})

		It("drops malformed frames silently", func() {
			errs := stream.Listen(transport.EventError)

			push(conn, `{malformed`)
			push(conn, `{"a":1}`)

			var ev transport.Event
			Eventually(messages).Should(Receive(&ev))
			Expect(ev.Frame.Kind).To(Equal(protocol.KindUnclassified))

			Consistently(messages).ShouldNot(Receive())
			Consistently(errs).ShouldNot(Receive())
		})

		Describe("delta filtering", func() {
			It("emits all deltas while no filter is set", func() {
				push(conn, `{"context":"vessels.other","updates":[]}`)
				Eventually(messages).Should(Receive())
			})

			It("leaves deltas unfiltered when self is not yet known", func() {
				stream.SetFilter("self")

				push(conn, `{"context":"vessels.other","updates":[]}`)
				Eventually(messages).Should(Receive())
			})

			It("refines a self filter once the hello arrives", func() {
				stream.SetFilter("self")

				push(conn, `{"version":"1.0.0","self":"vessels.urn:me"}`)
				Eventually(messages).Should(Receive())

				push(conn, `{"context":"vessels.other","updates":[]}`)
				Consistently(messages).ShouldNot(Receive())

				push(conn, `{"context":"vessels.urn:me","updates":[]}`)
				Eventually(messages).Should(Receive())
			})

			It("filters on a literal vessel identifier", func() {
				stream.SetFilter("vessels.urn:them")

				push(conn, `{"context":"vessels.urn:me","updates":[]}`)
				Consistently(messages).ShouldNot(Receive())

				push(conn, `{"context":"vessels.urn:them","updates":[]}`)
				Eventually(messages).Should(Receive())
			})

			It("clears the filter on an empty value", func() {
				stream.SetFilter("vessels.urn:them")
				stream.SetFilter("")

				push(conn, `{"context":"vessels.urn:me","updates":[]}`)
				Eventually(messages).Should(Receive())
			})
		})
	})

	Describe("outbound", func() {
		var conn *websocket.Conn

		BeforeEach(func() {
			connects := stream.Listen(transport.EventConnect)

			Expect(stream.Open(server.url(), transport.SubscribeNone, "")).To(Succeed())
			Eventually(connects, "2s").Should(Receive())
			Expect(server.conns).To(Receive(&conn))
		})

		It("is a no-op when the socket is closed", func() {
			Expect(stream.Close()).To(Succeed())
			Expect(stream.Send("anything")).To(Succeed())
		})

		Describe("SendRequest()", func() {
			It("rejects a nil payload with an empty identifier", func() {
				id, err := stream.SendRequest(nil)
				Expect(err).To(MatchError(transport.ErrInvalidRequest))
				Expect(id).To(Equal(""))
			})

			It("stamps a request identifier and merges the payload", func() {
				id, err := stream.SendRequest(map[string]interface{}{
					"put": map[string]interface{}{"path": "a.b", "value": 1},
				})
				Expect(err).To(Succeed())
				Expect(id).NotTo(Equal(""))

				frame := readFrame(conn)
				Expect(gjson.GetBytes(frame, "requestId").String()).To(Equal(id))
				Expect(gjson.GetBytes(frame, "put.path").String()).To(Equal("a.b"))
			})

			It("attaches the session token and client identifier", func() {
				session.SetToken("tok")
				session.SetClientID("client-1")

				_, err := stream.SendRequest(map[string]interface{}{"ping": true})
				Expect(err).To(Succeed())

				frame := readFrame(conn)
				Expect(gjson.GetBytes(frame, "token").String()).To(Equal("tok"))
				Expect(gjson.GetBytes(frame, "clientId").String()).To(Equal("client-1"))
			})

			It("omits the token on login requests", func() {
				session.SetToken("tok")

				_, err := stream.SendRequest(map[string]interface{}{
					"login": map[string]interface{}{"username": "u", "password": "p"},
				})
				Expect(err).To(Succeed())

				frame := readFrame(conn)
				Expect(gjson.GetBytes(frame, "token").Exists()).To(BeFalse())
				Expect(gjson.GetBytes(frame, "login.username").String()).To(Equal("u"))
			})
		})

		It("normalises the context on put requests", func() {
			_, err := stream.Put("self", "steering.autopilot.target", 1.52)
			Expect(err).To(Succeed())

			frame := readFrame(conn)
			Expect(gjson.GetBytes(frame, "context").String()).To(Equal("vessels.self"))
			Expect(gjson.GetBytes(frame, "put.path").String()).To(Equal("steering.autopilot.target"))
			Expect(gjson.GetBytes(frame, "put.value").Num).To(Equal(1.52))
		})

		It("builds subscribe envelopes with validated options", func() {
			err := stream.Subscribe("self", protocol.Subscription{
				Path:   "environment.wind",
				Period: 1000,
				Format: protocol.FormatDelta,
				Policy: protocol.PolicyFixed,
			})
			Expect(err).To(Succeed())

			frame := readFrame(conn)
			Expect(gjson.GetBytes(frame, "context").String()).To(Equal("vessels.self"))

			subs := gjson.GetBytes(frame, "subscribe").Array()
			Expect(subs).To(HaveLen(1))
			Expect(subs[0].Get("path").String()).To(Equal("environment.wind"))
			Expect(subs[0].Get("period").Int()).To(Equal(int64(1000)))
			Expect(subs[0].Get("format").String()).To(Equal("delta"))
			Expect(subs[0].Get("policy").String()).To(Equal("fixed"))
		})

		It("builds unsubscribe envelopes", func() {
			Expect(stream.Unsubscribe("self", "environment.wind", "navigation.position")).To(Succeed())

			frame := readFrame(conn)
			paths := gjson.GetBytes(frame, "unsubscribe.#.path")
			Expect(paths.Value()).To(Equal([]interface{}{"environment.wind", "navigation.position"}))
		})

		It("raises and clears alarms over the socket", func() {
			_, err := stream.RaiseAlarm("self", "mob", protocol.NewAlarm("man overboard", protocol.AlarmEmergency))
			Expect(err).To(Succeed())

			frame := readFrame(conn)
			Expect(gjson.GetBytes(frame, "put.path").String()).To(Equal("notifications.mob"))
			Expect(gjson.GetBytes(frame, "put.value.state").String()).To(Equal("emergency"))

			_, err = stream.ClearAlarm("self", "mob")
			Expect(err).To(Succeed())

			frame = readFrame(conn)
			Expect(gjson.GetBytes(frame, "put.value").Type).To(Equal(gjson.Null))
		})
	})
})

// fakeStreamServer upgrades inbound connections and hands the server
// side of each socket to the test.
type fakeStreamServer struct {
	server  *httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

func newFakeStreamServer() *fakeStreamServer {
	f := &fakeStreamServer{
		conns:   make(chan *websocket.Conn, 4),
		queries: make(chan url.Values, 4),
	}

	upgrader := websocket.Upgrader{}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.queries <- r.URL.Query()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		f.conns <- conn
	}))

	return f
}

func (f *fakeStreamServer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeStreamServer) close() {
	f.server.Close()
}

func push(conn *websocket.Conn, frame string) {
	ExpectWithOffset(1, conn.WriteMessage(websocket.TextMessage, []byte(frame))).To(Succeed())
}

func readFrame(conn *websocket.Conn) []byte {
	Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())

	_, data, err := conn.ReadMessage()
	ExpectWithOffset(1, err).To(Succeed())

	return data
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/zenithweb/zenith/internal/auth"
	"github.com/zenithweb/zenith/internal/kv"
	"github.com/zenithweb/zenith/internal/realtime"
	"github.com/zenithweb/zenith/internal/web"
)

// stack wires the full identity and realtime pipeline over the in-memory
// store, the same shape the serve command builds in production.
type stack struct {
	server  *httptest.Server
	gateway *realtime.Gateway
}

func newStack() *stack {
	store := kv.NewMemoryStore()

	users := auth.NewUserStore(store)
	sessions := auth.NewSessionManager(store, time.Hour)
	service := auth.NewService(
		store,
		auth.NewDirectory(store),
		auth.NewCredentialStore(store),
		users,
		sessions,
	)

	gateway := realtime.NewGateway()
	binder, err := realtime.NewBinder(sessions, users, gateway)
	Expect(err).NotTo(HaveOccurred())
	pager, err := realtime.NewPager(binder, users, gateway)
	Expect(err).NotTo(HaveOccurred())
	ws := realtime.NewWSHandler(gateway, binder, pager, nil, 16,
		func(*http.Request) bool { return true })

	handler := web.NewHandler(service, time.Hour, false, nil)
	server := httptest.NewServer(handler.Routes(ws))
	return &stack{server: server, gateway: gateway}
}

func (s *stack) post(path string, form url.Values, cookies ...*http.Cookie) *http.Response {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+path, strings.NewReader(form.Encode()))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := s.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func (s *stack) register(name, email, password string) {
	resp := s.post("/register", url.Values{
		"name":     {name},
		"email":    {email},
		"password": {password},
	})
	defer resp.Body.Close()
	Expect(resp.StatusCode).To(Equal(http.StatusCreated))
}

func (s *stack) login(name, password string) *http.Cookie {
	resp := s.post("/login", url.Values{
		"name":     {name},
		"password": {password},
	})
	defer resp.Body.Close()
	Expect(resp.StatusCode).To(Equal(http.StatusOK))

	for _, c := range resp.Cookies() {
		if c.Name == web.SessionCookieName {
			return c
		}
	}
	Fail("login response carried no session cookie")
	return nil
}

func (s *stack) dialWS() *websocket.Conn {
	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	Expect(err).NotTo(HaveOccurred())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func readEvent(conn *websocket.Conn) realtime.Event {
	Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
	_, raw, err := conn.ReadMessage()
	Expect(err).NotTo(HaveOccurred())

	var event realtime.Event
	Expect(json.Unmarshal(raw, &event)).To(Succeed())
	return event
}

var _ = Describe("Identity and realtime flow", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack()
		DeferCleanup(s.server.Close)
	})

	It("registers, logs in, and reports the session on the home endpoint", func() {
		s.register("alice", "alice@example.com", "s3cret")
		cookie := s.login("alice", "s3cret")

		req, err := http.NewRequest(http.MethodGet, s.server.URL+"/", nil)
		Expect(err).NotTo(HaveOccurred())
		req.AddCookie(cookie)

		resp, err := s.server.Client().Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body["authenticated"]).To(BeTrue())
		Expect(body["name"]).To(Equal("alice"))
	})

	It("rejects a second registration for the same name", func() {
		s.register("alice", "alice@example.com", "s3cret")

		resp := s.post("/register", url.Values{
			"name":     {"alice"},
			"email":    {"other@example.com"},
			"password": {"pw"},
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
	})

	It("binds a websocket to the session and fans out pager messages", func() {
		s.register("alice", "alice@example.com", "s3cret")
		cookie := s.login("alice", "s3cret")

		sender := s.dialWS()
		DeferCleanup(func() { sender.Close() })
		listener := s.dialWS()
		DeferCleanup(func() { listener.Close() })

		Expect(sender.WriteJSON(map[string]string{
			"method": "hello",
			"sid":    cookie.Value,
		})).To(Succeed())

		ack := readEvent(sender)
		Expect(ack.Type).To(Equal(realtime.EventTypeHelloAck))

		Expect(sender.WriteJSON(map[string]string{
			"method": "pager.send",
			"text":   "hello from integration",
		})).To(Succeed())

		for _, conn := range []*websocket.Conn{sender, listener} {
			event := readEvent(conn)
			Expect(event.Channel).To(Equal(realtime.DefaultChannel))
			Expect(event.Type).To(Equal(realtime.EventTypePagerMessage))

			var msg realtime.PagerMessage
			Expect(json.Unmarshal(event.Payload, &msg)).To(Succeed())
			Expect(msg.Name).To(Equal("alice"))
			Expect(msg.Text).To(Equal("hello from integration"))
		}
	})

	It("refuses pager sends from unbound connections", func() {
		conn := s.dialWS()
		DeferCleanup(func() { conn.Close() })

		Expect(conn.WriteJSON(map[string]string{
			"method": "pager.send",
			"text":   "anonymous",
		})).To(Succeed())

		event := readEvent(conn)
		Expect(event.Type).To(Equal(realtime.EventTypeError))
	})

	It("invalidates the session after logout", func() {
		s.register("alice", "alice@example.com", "s3cret")
		cookie := s.login("alice", "s3cret")

		resp := s.post("/logout", url.Values{}, cookie)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		conn := s.dialWS()
		DeferCleanup(func() { conn.Close() })

		Expect(conn.WriteJSON(map[string]string{
			"method": "hello",
			"sid":    cookie.Value,
		})).To(Succeed())

		event := readEvent(conn)
		Expect(event.Type).To(Equal(realtime.EventTypeError))
	})
})

package eventbus

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tv42/zbase32"
	"golang.org/x/crypto/hkdf"
	macaroon "gopkg.in/macaroon.v2"
)

// rootKeyInfo is the HKDF info string binding a derived key to this
// package's macaroon use, so the same master secret used elsewhere in the
// daemon never collides with an eventbus token.
var rootKeyInfo = []byte("projwallet-eventbus-macaroon")

// DeriveRootKey derives a 32-byte macaroon root key for one manager
// instance from masterSecret and a per-manager salt (e.g. its wallet id),
// via HKDF-SHA256.
func DeriveRootKey(masterSecret, salt []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, masterSecret, salt, rootKeyInfo)
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewBearerMacaroon bakes a new macaroon authorizing websocket event
// subscription, rooted at rootKey and identified by id.
func NewBearerMacaroon(rootKey []byte, id string) (*macaroon.Macaroon, error) {
	return macaroon.New(rootKey, []byte(id), "projwallet", macaroon.LatestVersion)
}

// VerifyBearerMacaroon checks that token was minted from rootKey and
// carries no unrecognized caveats.
func VerifyBearerMacaroon(rootKey []byte, token *macaroon.Macaroon) error {
	return token.Verify(rootKey, func(caveat string) error {
		return fmt.Errorf("unrecognized caveat %q", caveat)
	}, nil)
}

// WebsocketHandler upgrades authenticated HTTP connections into event
// subscribers of a Bus. The bearer macaroon travels base64-encoded in the
// Sec-WebSocket-Protocol header, the conventional place to smuggle
// out-of-band auth through the websocket handshake.
type WebsocketHandler struct {
	bus      *Bus
	rootKey  []byte
	upgrader websocket.Upgrader
}

// NewWebsocketHandler returns a handler serving bus's events to clients
// bearing a macaroon rooted at rootKey.
func NewWebsocketHandler(bus *Bus, rootKey []byte) *WebsocketHandler {
	return &WebsocketHandler{bus: bus, rootKey: rootKey}
}

// ServeHTTP implements http.Handler.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get("Sec-Websocket-Protocol")
	if raw == "" {
		http.Error(w, "missing bearer macaroon", http.StatusUnauthorized)
		return
	}
	tokenBytes, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		http.Error(w, "malformed macaroon", http.StatusUnauthorized)
		return
	}
	var m macaroon.Macaroon
	if err := m.UnmarshalBinary(tokenBytes); err != nil {
		http.Error(w, "malformed macaroon", http.StatusUnauthorized)
		return
	}
	if err := VerifyBearerMacaroon(h.rootKey, &m); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	log.Infof("websocket subscriber connected, macaroon id %s",
		zbase32.EncodeToString(m.Id()))

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			log.Debugf("websocket subscriber write failed: %v", err)
			return
		}
	}
}

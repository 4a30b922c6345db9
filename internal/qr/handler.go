/*
Package qr renders a scannable join link for a signaling room: the
same upgrade URL a client would otherwise have to be told out of band
(ws(s)://host:port/?room=<code>&clientId=<id>&token=<bearer>).

The hub issues neither clientId nor token, so the generated link is a
template: operators fill in clientId/token themselves (or a pairing
flow outside this repository does) before a peer opens it. This is a
convenience surface for local/LAN deployments, not part of the wire
protocol.
*/
package qr

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/skip2/go-qrcode"
)

// JoinInfo describes one network interface's join URL for a room.
type JoinInfo struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Room     string `json:"room,omitempty"`
	URL      string `json:"url"`
}

// Handler serves join-link JSON and QR-code PNGs for the local host's
// network interfaces.
type Handler struct {
	host     string
	port     int
	useTLS   bool
	localIPs []string
}

// NewHandler builds a Handler advertising port on every IPv4 interface
// address found at construction time, loopback included.
func NewHandler(host string, port int, useTLS bool) *Handler {
	h := &Handler{host: host, port: port, useTLS: useTLS}
	h.localIPs = localIPv4s()
	return h
}

// HandleQR returns the join info for every local interface as JSON.
func (h *Handler) HandleQR(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	infos := h.joinInfos(room)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(infos)
}

// HandleQRImage returns a QR code PNG encoding one join URL, preferring
// a non-loopback interface so the code is scannable from another
// device on the LAN.
func (h *Handler) HandleQRImage(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	infos := h.joinInfos(room)
	if len(infos) == 0 {
		http.Error(w, "no network interfaces found", http.StatusInternalServerError)
		return
	}

	info := preferNonLoopback(infos)
	png, err := qrcode.Encode(info.URL, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

func preferNonLoopback(infos []JoinInfo) JoinInfo {
	for _, i := range infos {
		if i.Host != "127.0.0.1" && i.Host != "localhost" {
			return i
		}
	}
	return infos[0]
}

func (h *Handler) joinInfos(room string) []JoinInfo {
	protocol := "ws"
	if h.useTLS {
		protocol = "wss"
	}

	infos := make([]JoinInfo, 0, len(h.localIPs))
	for _, ip := range h.localIPs {
		url := fmt.Sprintf("%s://%s:%d/?room=%s&clientId=<id>&token=<bearer>", protocol, ip, h.port, room)
		infos = append(infos, JoinInfo{
			Protocol: protocol,
			Host:     ip,
			Port:     h.port,
			Room:     room,
			URL:      url,
		})
	}
	return infos
}

func localIPv4s() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP.String())
			}
		}
	}
	return ips
}

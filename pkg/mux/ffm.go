package mux

import (
	"bytes"

	"feedcast/pkg/core"
	"feedcast/pkg/ffm"
)

// ffmMuxer relays packets in feed format so another server can ingest them.
type ffmMuxer struct {
	streams []core.CodecParams
	out     *bytes.Buffer
	pw      *ffm.PacketWriter
}

func newFFMMuxer(streams []core.CodecParams) (Muxer, error) {
	if len(streams) == 0 {
		return nil, ErrNoStreams
	}
	m := &ffmMuxer{streams: streams}
	m.pw = ffm.NewPacketWriter(func(rec []byte) error {
		_, err := m.out.Write(rec)
		return err
	})
	return m, nil
}

func (m *ffmMuxer) WriteHeader(w *bytes.Buffer) error {
	rec, err := ffm.EncodeHeader(m.streams, ffm.PacketSize)
	if err != nil {
		return err
	}
	w.Write(rec)
	return nil
}

func (m *ffmMuxer) WritePacket(w *bytes.Buffer, p core.Packet) error {
	m.out = w
	if err := m.pw.WritePacket(p); err != nil {
		return err
	}
	// 실시간 중계이므로 패킷마다 레코드를 내보냄
	return m.pw.Flush()
}

func (m *ffmMuxer) WriteTrailer(w *bytes.Buffer) error {
	m.out = w
	return m.pw.Flush()
}

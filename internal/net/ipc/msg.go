package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/kanengo/someipc/runtime/pool"
)

type messageType uint8

const (
	msgRequest          messageType = 0x00
	msgRequestNoReturn  messageType = 0x01
	msgNotification     messageType = 0x02
	msgSubscribeEvent   messageType = 0x04
	msgUnsubscribeEvent messageType = 0x05
	msgOfferService     messageType = 0x10
	msgStopOfferService messageType = 0x11
	msgResponse         messageType = 0x80
	msgError            messageType = 0x81
)

// ReturnCode conveys the protocol-level outcome of a request.
type ReturnCode uint8

const (
	RcOk                    ReturnCode = 0x00
	RcNotOk                 ReturnCode = 0x01 // 应用层错误,payload携带编码后的错误
	RcUnknownService        ReturnCode = 0x02
	RcUnknownMethod         ReturnCode = 0x03
	RcNotReady              ReturnCode = 0x04
	RcNotReachable          ReturnCode = 0x05
	RcWrongProtocolVersion  ReturnCode = 0x07
	RcWrongInterfaceVersion ReturnCode = 0x08
	RcMalformedMessage      ReturnCode = 0x09
	RcWrongMessageType      ReturnCode = 0x0a
)

const protocolVersion uint8 = 1

// ServiceIdentity names one offered service instance.
type ServiceIdentity struct {
	Service  uint16
	Instance uint16
	Major    uint8
}

func (si ServiceIdentity) String() string {
	return fmt.Sprintf("%d/%d v%d", si.Service, si.Instance, si.Major)
}

// MethodID identifies a method of a service interface. Event ids share the
// same space with the high bit set, mirroring the SOME/IP convention.
type MethodID uint16

// SessionID correlates a response with the request that produced it. It is
// unique only among the requests currently in flight on one logical channel.
type SessionID uint16

// Header 格式 (big-endian, 14 bytes), 后接 traceHeaderLen 字节的 trace 上下文:
// serviceID  [2]byte
// instanceID [2]byte
// methodID   [2]byte
// clientID   [2]byte
// sessionID  [2]byte
// protocolVersion  [1]byte
// interfaceVersion [1]byte
// messageType      [1]byte
// returnCode       [1]byte
type Header struct {
	Ident    ServiceIdentity
	Method   MethodID
	ClientID uint16
	Session  SessionID
	Protocol uint8
	Type     messageType
	Return   ReturnCode
}

const (
	headerLen     = 14
	wireHeaderLen = headerLen + traceHeaderLen
)

func (h *Header) encode(b []byte) {
	binary.BigEndian.PutUint16(b[0:], h.Ident.Service)
	binary.BigEndian.PutUint16(b[2:], h.Ident.Instance)
	binary.BigEndian.PutUint16(b[4:], uint16(h.Method))
	binary.BigEndian.PutUint16(b[6:], h.ClientID)
	binary.BigEndian.PutUint16(b[8:], uint16(h.Session))
	b[10] = h.Protocol
	b[11] = h.Ident.Major
	b[12] = byte(h.Type)
	b[13] = byte(h.Return)
}

func decodeHeader(b []byte) Header {
	return Header{
		Ident: ServiceIdentity{
			Service:  binary.BigEndian.Uint16(b[0:]),
			Instance: binary.BigEndian.Uint16(b[2:]),
			Major:    b[11],
		},
		Method:   MethodID(binary.BigEndian.Uint16(b[4:])),
		ClientID: binary.BigEndian.Uint16(b[6:]),
		Session:  SessionID(binary.BigEndian.Uint16(b[8:])),
		Protocol: b[10],
		Type:     messageType(b[12]),
		Return:   ReturnCode(b[13]),
	}
}

// Frame 格式
// length  [4]byte         -- header+trace+payload 长度
// header  [headerLen]byte
// trace   [traceHeaderLen]byte
// payload [length-wireHeaderLen]byte

func writeMessage(c io.Writer, wLock *sync.Mutex, hdr []byte, payload []byte, flattenLimit int) error {
	size := 4 + len(hdr) + len(payload)

	if size > flattenLimit {
		return writeChunked(c, wLock, hdr, payload)
	}

	return writeFlat(c, wLock, hdr, payload)
}

// writeChunked 某些操作系统对批量写入有优化
func writeChunked(w io.Writer, wLock *sync.Mutex, hdr []byte, payload []byte) error {
	// We use an iovec with up to three entries.
	var vec [3][]byte

	lh, lp := len(hdr), len(payload)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(lh+lp))

	vec[0] = length[:]
	vec[1] = hdr
	vec[2] = payload

	buf := net.Buffers(vec[:])

	wLock.Lock()
	defer wLock.Unlock()
	n, err := buf.WriteTo(w)
	if err == nil && n != 4+int64(lh)+int64(lp) {
		err = fmt.Errorf("partial write")
	}

	return err
}

// writeFlat 拼接 length, header 和 payload 成一个单独的 flat byte slice
func writeFlat(w io.Writer, wLock *sync.Mutex, hdr []byte, payload []byte) error {
	lh, lp := len(hdr), len(payload)
	size := 4 + lh + lp

	var data []byte
	if bs, err := pool.GetPowerOfTwoSizeBytes(size); err == nil && bs != nil {
		data = (*bs)[:0]
		defer func() {
			_ = pool.FreePowerOfTwoSizeBytes(data)
		}()
	} else {
		data = make([]byte, 0, size)
	}

	data = binary.BigEndian.AppendUint32(data, uint32(lh+lp))
	data = append(data, hdr...)
	data = append(data, payload...)

	wLock.Lock()
	defer wLock.Unlock()
	n, err := w.Write(data)
	if err == nil && n != size {
		err = fmt.Errorf("partial write")
	}

	return err
}

// readMessage reads one frame and splits it into header, trace context and
// payload. The returned slices alias one buffer owned by the caller.
func readMessage(r io.Reader) (Header, []byte, []byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return Header{}, nil, nil, err
	}

	dataLen := binary.BigEndian.Uint32(length[:])

	const maxSize = 16 << 20 // 16m
	if dataLen > maxSize {
		return Header{}, nil, nil, fmt.Errorf("overly large message length: %d", dataLen)
	}
	if dataLen < wireHeaderLen {
		return Header{}, nil, nil, fmt.Errorf("truncated message: %d < %d", dataLen, wireHeaderLen)
	}

	msg := make([]byte, int(dataLen))
	if _, err := io.ReadFull(r, msg); err != nil {
		return Header{}, nil, nil, err
	}

	hdr := decodeHeader(msg)

	return hdr, msg[headerLen:wireHeaderLen], msg[wireHeaderLen:], nil
}

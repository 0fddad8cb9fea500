/*
   SparcPC - SunPCi co-processor card bridge
   Copyright (c) 2022, Alexander Vollschwitz

   This file is part of SparcPC.

   SparcPC is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   SparcPC is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with SparcPC. If not, see <http://www.gnu.org/licenses/>.
*/

package ipc

import (
	"encoding/binary"
	"fmt"
)

/*
	Wire format shared by both directions: every frame starts with a 16 byte
	header, little endian throughout. Requests carry dispatcher and command
	in bytes 4-7, responses carry a status code and a reserved field there
	instead. Magic, sequence and payload length sit at the same offsets in
	both, which is what makes single-byte resynchronization and
	sequence-based correlation possible without knowing the frame kind up
	front.
*/
const (
	MsgMagic   = 0x53504349 // "SPCI"
	HeaderSize = 16
	MaxMessage = 64 * 1024
	MaxPayload = MaxMessage - HeaderSize
)

// dispatcher ids, the addressing scheme of the frame header
const (
	DispCore    = 0
	DispVGA     = 1
	DispVideo   = 2
	DispAudio   = 3
	DispNetwork = 4
	DispFSD     = 5
	DispInput   = 6
	DispClip    = 7
	DispStorage = 8
	DispMax     = 9
)

// response status codes
const (
	StatusSuccess     = 0x0000
	StatusError       = 0x0001
	StatusInvalidCmd  = 0x0002
	StatusInvalidDisp = 0x0003
	StatusTimeout     = 0x0004
	StatusBusy        = 0x0005
)

//
var ErrPayloadTooLarge = fmt.Errorf(
	"payload exceeds maximum of %d bytes", MaxPayload)

//
type Header struct {
	Dispatcher uint16
	Command    uint16
	Sequence   uint32
	Length     uint32
}

//
func (h *Header) encode(p []byte) {
	binary.LittleEndian.PutUint32(p[0:], MsgMagic)
	binary.LittleEndian.PutUint16(p[4:], h.Dispatcher)
	binary.LittleEndian.PutUint16(p[6:], h.Command)
	binary.LittleEndian.PutUint32(p[8:], h.Sequence)
	binary.LittleEndian.PutUint32(p[12:], h.Length)
}

// decodeHeader reads a frame header from p; the caller has verified the
// magic already, or checks the returned flag.
func decodeHeader(p []byte) (Header, bool) {
	ok := binary.LittleEndian.Uint32(p[0:]) == MsgMagic
	return Header{
		Dispatcher: binary.LittleEndian.Uint16(p[4:]),
		Command:    binary.LittleEndian.Uint16(p[6:]),
		Sequence:   binary.LittleEndian.Uint32(p[8:]),
		Length:     binary.LittleEndian.Uint32(p[12:]),
	}, ok
}

//
type responseHeader struct {
	Status   uint16
	Sequence uint32
	Length   uint32
}

//
func (h *responseHeader) encode(p []byte) {
	binary.LittleEndian.PutUint32(p[0:], MsgMagic)
	binary.LittleEndian.PutUint16(p[4:], h.Status)
	binary.LittleEndian.PutUint16(p[6:], 0)
	binary.LittleEndian.PutUint32(p[8:], h.Sequence)
	binary.LittleEndian.PutUint32(p[12:], h.Length)
}

// Frame is a fully reassembled inbound frame.
type Frame struct {
	Header  Header
	Payload []byte
}

// Response is the result of a request/response exchange.
type Response struct {
	Status  uint16
	Payload []byte
}

//
func (r *Response) Ok() bool {
	return r.Status == StatusSuccess
}

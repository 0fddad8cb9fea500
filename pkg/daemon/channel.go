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

package daemon

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sparcpc/pkg/ipc"
)

// channel flags
const (
	ChannelExclusive  = 1 << 0
	ChannelPersistent = 1 << 1
)

//
const maxChannels = 16

// channel ids start above the fixed dispatcher ids, so the dispatcher
// field of a frame header routes either without ambiguity
const channelIDBase = 0x0100

//
var ErrChannelLimit = fmt.Errorf("channel limit reached")
var ErrChannelExclusive = fmt.Errorf("channel name in exclusive use")
var ErrUnknownService = fmt.Errorf("unknown service name")
var ErrNoSuchChannel = fmt.Errorf("no such channel")

/*
	The guest's Windows drivers open named channels to reach card services.
	The names are those of the NT driver objects; each maps to one of the
	fixed dispatchers. Matching is case-insensitive, names arrive UTF-16LE
	and are reduced to ASCII first.
*/
var serviceNames = map[string]uint16{
	"newint13dispatcher":  ipc.DispStorage,
	"vgadispatcher":       ipc.DispVGA,
	"videodispatcher":     ipc.DispVideo,
	"networkdispatcher":   ipc.DispNetwork,
	"fsddispatcher":       ipc.DispFSD,
	"clipboarddispatcher": ipc.DispClip,
}

//
type channel struct {
	id         uint16
	name       string
	dispatcher uint16
	flags      uint32
}

// channelRegistry hands out channel ids and resolves them back to their
// target dispatcher. Ids are monotonic within a guest session; a guest
// reset empties the registry.
type channelRegistry struct {
	lock     sync.Mutex
	channels map[uint16]*channel
	nextID   uint16
}

//
func newChannelRegistry() *channelRegistry {
	return &channelRegistry{
		channels: make(map[uint16]*channel),
		nextID:   channelIDBase,
	}
}

//
func (r *channelRegistry) create(name string, flags uint32) (*channel, error) {

	key := strings.ToLower(name)

	dispatcher, ok := serviceNames[key]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownService, name)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	for _, c := range r.channels {
		if strings.ToLower(c.name) != key {
			continue
		}
		if c.flags&ChannelExclusive != 0 || flags&ChannelExclusive != 0 {
			return nil, fmt.Errorf("%w: '%s'", ErrChannelExclusive, name)
		}
		// open of an already open, non-exclusive channel hands back the
		// existing one
		return c, nil
	}

	if len(r.channels) >= maxChannels {
		return nil, ErrChannelLimit
	}

	c := &channel{
		id:         r.nextID,
		name:       name,
		dispatcher: dispatcher,
		flags:      flags,
	}
	r.nextID++
	r.channels[c.id] = c

	log.WithFields(log.Fields{
		"channel":    fmt.Sprintf("0x%04x", c.id),
		"name":       name,
		"dispatcher": dispatcher}).Debug("channel created")

	return c, nil
}

//
func (r *channelRegistry) delete(id uint16) error {

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.channels[id]; !ok {
		return fmt.Errorf("%w: 0x%04x", ErrNoSuchChannel, id)
	}
	delete(r.channels, id)

	log.WithField("channel", fmt.Sprintf("0x%04x", id)).
		Debug("channel deleted")
	return nil
}

//
func (r *channelRegistry) lookup(id uint16) *channel {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.channels[id]
}

// reset drops all channels; persistent ones survive.
func (r *channelRegistry) reset() {

	r.lock.Lock()
	defer r.lock.Unlock()

	for id, c := range r.channels {
		if c.flags&ChannelPersistent == 0 {
			delete(r.channels, id)
		}
	}
}

//
func (r *channelRegistry) count() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.channels)
}

/*
	decodeServiceName turns a UTF-16LE encoded, optionally NUL-terminated
	service name into ASCII. Anything outside the ASCII range becomes '?';
	the known service names are plain ASCII, so this only mangles names
	that would not resolve anyway.
*/
func decodeServiceName(p []byte) string {

	var b strings.Builder
	for i := 0; i+1 < len(p); i += 2 {
		u := uint16(p[i]) | uint16(p[i+1])<<8
		if u == 0 {
			break
		}
		if u > 0x7F {
			b.WriteByte('?')
		} else {
			b.WriteByte(byte(u))
		}
	}
	return b.String()
}

// encodeServiceName is the inverse of decodeServiceName, used by the
// guest-facing test helpers and the loopback client.
func encodeServiceName(name string) []byte {
	p := make([]byte, 0, 2*len(name)+2)
	for i := 0; i < len(name); i++ {
		p = append(p, name[i], 0)
	}
	return append(p, 0, 0)
}

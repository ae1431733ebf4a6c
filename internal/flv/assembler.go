package flv

import (
	"sync"

	"github.com/alxayo/go-rtmp/internal/pcp/channel"
)

// Assembler is the stateful RTMP -> FLV -> PCP assembler owned by a
// Broadcast broker, implementing channel.Assembler. It tracks the current
// StreamMetadata plus the last-seen audio/video codec header tags and
// rebuilds the magic prefix whenever both are available, per spec.md §4.6.
type Assembler struct {
	mu sync.Mutex

	meta        *StreamMetadata
	videoHeader []byte
	audioHeader []byte

	started bool
	pos     uint32
}

// NewAssembler constructs an empty Assembler.
func NewAssembler() *Assembler { return &Assembler{} }

var _ channel.Assembler = (*Assembler)(nil)

// Feed implements channel.Assembler.
func (a *Assembler) Feed(event channel.BroadcastEvent) (channel.AssembledChunk, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e := event.(type) {
	case NewMetadataEvent:
		a.meta = &e.Meta
		a.videoHeader = nil
		a.audioHeader = nil
		a.started = false
		return channel.AssembledChunk{}, false
	case NewVideoEvent:
		return a.feedVideo(e)
	case NewAudioEvent:
		return a.feedAudio(e)
	default:
		return channel.AssembledChunk{}, false
	}
}

func (a *Assembler) feedVideo(e NewVideoEvent) (channel.AssembledChunk, bool) {
	tag := buildTag(tagTypeVideo, e.Data, e.Timestamp)
	if isAVCSequenceHeader(e.Data) {
		a.videoHeader = tag
		return a.tryEmitHead()
	}
	if !a.started {
		return channel.AssembledChunk{}, false
	}
	return a.emitData(tag, e.Droppable), true
}

func (a *Assembler) feedAudio(e NewAudioEvent) (channel.AssembledChunk, bool) {
	tag := buildTag(tagTypeAudio, e.Data, e.Timestamp)
	if isAACSequenceHeader(e.Data) {
		a.audioHeader = tag
		return a.tryEmitHead()
	}
	if !a.started {
		return channel.AssembledChunk{}, false
	}
	return a.emitData(tag, e.Droppable), true
}

// tryEmitHead rebuilds the magic prefix and emits a head chunk once
// metadata and both codec header tags are all available, per spec.md §4.6
// "if both audio/video headers are now present together with metadata,
// rebuild magic_prefix". It buffers (returns ok=false) until then.
func (a *Assembler) tryEmitHead() (channel.AssembledChunk, bool) {
	if a.meta == nil || a.videoHeader == nil || a.audioHeader == nil {
		return channel.AssembledChunk{}, false
	}
	prefix := make([]byte, 0, fileHeaderLength+len(a.videoHeader)+len(a.audioHeader))
	prefix = append(prefix, fileHeader()...)
	prefix = append(prefix, a.videoHeader...)
	prefix = append(prefix, a.audioHeader...)

	if !a.started {
		a.pos = fileHeaderLength
		a.started = true
	}
	pos := a.pos
	a.pos += uint32(len(prefix))
	return channel.AssembledChunk{IsHead: true, Pos: pos, Payload: prefix}, true
}

func (a *Assembler) emitData(tag []byte, droppable bool) channel.AssembledChunk {
	pos := a.pos
	a.pos += uint32(len(tag))
	return channel.AssembledChunk{Pos: pos, Payload: tag, Continuation: droppable}
}

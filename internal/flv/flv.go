// Package flv implements the stateful RTMP -> FLV tag assembler that feeds
// a Broadcast channel broker, per spec.md §4.6. Grounded in original_source
// src/pcp/channel/broker/broker.rs's RtmpFlvnizer
// (write_meta/write_video/write_audio/set_header/write_magic/
// is_avc_header/is_aac_header) and the teacher's
// internal/rtmp/media/{codec_detector,video,audio}.go small-pure-function
// style for codec-header detection.
package flv

// fileHeaderLength is the fixed FLV file header size: the 9-byte
// signature/version/flags/header-size block plus the 4-byte
// PreviousTagSize0 that always follows it (spec.md §4.6 "Positioning").
const fileHeaderLength = 13

// flagsAudioVideo marks both audio and video streams present in the FLV
// file header's TypeFlags byte.
const flagsAudioVideo = 0x05

// fileHeader builds the 13-byte FLV file header preceding the first tag.
func fileHeader() []byte {
	h := make([]byte, fileHeaderLength)
	copy(h, "FLV")
	h[3] = 1 // version
	h[4] = flagsAudioVideo
	putUint32BE(h[5:9], 9) // header size
	putUint32BE(h[9:13], 0) // PreviousTagSize0
	return h
}

func putUint24BE(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// buildTag frames one FLV tag per spec.md §4.6 "Tag framing":
// {type(1), payload-size(3,BE), ts-lo(3,BE), ts-hi(1), stream-id(3,BE),
// payload, prev-tag-size(4,BE)}, where prev-tag-size == 11 + len(payload).
func buildTag(typeID uint8, payload []byte, timestamp uint32) []byte {
	size := len(payload)
	tag := make([]byte, 11+size+4)
	tag[0] = typeID
	putUint24BE(tag[1:4], uint32(size))
	putUint24BE(tag[4:7], timestamp&0x00ffffff)
	tag[7] = byte(timestamp >> 24)
	putUint24BE(tag[8:11], 0) // stream id, always 0
	copy(tag[11:11+size], payload)
	putUint32BE(tag[11+size:11+size+4], uint32(11+size))
	return tag
}

const (
	tagTypeAudio = 8
	tagTypeVideo = 9
)

// isAVCSequenceHeader reports whether an RTMP video payload is an AVC
// sequence header (AVCPacketType == 0), per spec.md §4.6.
func isAVCSequenceHeader(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	codecID := data[0] & 0x0f
	return codecID == 7 && data[1] == 0x00
}

// isAACSequenceHeader reports whether an RTMP audio payload is an AAC
// sequence header (data[0] == 0xAF && data[1] == 0x00), per spec.md §4.6.
func isAACSequenceHeader(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xAF && data[1] == 0x00
}

package hls

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// StreamVariant is one #EXT-X-STREAM-INF entry of a committed resource's
// master playlist: a version directory under committed/ plus the bandwidth
// attributes ffmpeg recorded when writing it.
type StreamVariant struct {
	Version    string // e.g. "Id", "De"
	Attributes string // raw attribute list following #EXT-X-STREAM-INF:
}

// URLRewriter builds the externally visible URL for one inner playlist or
// segment reference, given the committed-relative detail path (e.g.
// "Id/mdia_plist.m3u8" or "Id/dataseg_0000004").
type URLRewriter func(detail string) string

// WriteMasterPlaylist emits the master playlist for variants, rewriting
// every inner stream-info URL through rewrite, per spec.md §4.5 S3: the
// first chunk carries the #EXTM3U + #EXT-X-VERSION header, later entries
// each begin with "\n#EXT-X-STREAM-INF:".
func WriteMasterPlaylist(w io.Writer, variants []StreamVariant, rewrite URLRewriter) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprint(bw, "#EXTM3U\n#EXT-X-VERSION:7\n"); err != nil {
		return err
	}
	for _, v := range variants {
		detail := v.Version + "/" + mediaPlaylistName
		if _, err := fmt.Fprintf(bw, "#EXT-X-STREAM-INF:%s\n%s\n", v.Attributes, rewrite(detail)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// mediaPlaylistHeader holds the tags a media playlist must carry before its
// first #EXTINF entry, per spec.md §4.5 S4.
type mediaPlaylistHeader struct {
	version         string
	targetDuration  string
	mediaSequence   string
	playlistType    string
	mapURI          string
}

var requiredMediaTags = []string{
	"#EXTM3U", "#EXT-X-VERSION", "#EXT-X-TARGETDURATION",
	"#EXT-X-MEDIA-SEQUENCE", "#EXT-X-PLAYLIST-TYPE", "#EXT-X-MAP",
}

// segmentEntry is one #EXTINF + relative-segment pair from a source media
// playlist.
type segmentEntry struct {
	duration string
	relative string
}

// parseMediaPlaylist reads a raw committed/<ver>/mdia_plist.m3u8 body,
// extracting its required header tags and ordered segment entries.
func parseMediaPlaylist(body string) (mediaPlaylistHeader, []segmentEntry, error) {
	lines := strings.Split(body, "\n")
	var hdr mediaPlaylistHeader
	seen := make(map[string]bool, len(requiredMediaTags))
	var segments []segmentEntry

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		switch {
		case line == "#EXTM3U":
			seen["#EXTM3U"] = true
		case strings.HasPrefix(line, "#EXT-X-VERSION"):
			hdr.version = line
			seen["#EXT-X-VERSION"] = true
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION"):
			hdr.targetDuration = line
			seen["#EXT-X-TARGETDURATION"] = true
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE"):
			hdr.mediaSequence = line
			seen["#EXT-X-MEDIA-SEQUENCE"] = true
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE"):
			hdr.playlistType = line
			seen["#EXT-X-PLAYLIST-TYPE"] = true
		case strings.HasPrefix(line, "#EXT-X-MAP"):
			hdr.mapURI = line
			seen["#EXT-X-MAP"] = true
		case strings.HasPrefix(line, "#EXTINF:"):
			dur := strings.TrimPrefix(line, "#EXTINF:")
			dur = strings.TrimSuffix(dur, ",")
			if i+1 >= len(lines) {
				return hdr, nil, fmt.Errorf("hls: %s: #EXTINF without following segment line", mediaPlaylistName)
			}
			i++
			rel := strings.TrimRight(lines[i], "\r")
			segments = append(segments, segmentEntry{duration: dur, relative: rel})
		}
	}

	for _, tag := range requiredMediaTags {
		if !seen[tag] {
			return hdr, nil, fmt.Errorf("hls: %s: missing required tag %s", mediaPlaylistName, tag)
		}
	}
	return hdr, segments, nil
}

// WriteMediaPlaylist rewrites a source media playlist body for version ver:
// it requires the header tags spec.md §4.5 S4 names, inserts an #EXT-X-KEY
// line built from key after the header (the caller resolves the key id to
// key beforehand, e.g. with LookupCryptoKey, and handles a miss itself),
// rewrites #EXT-X-MAP's URI, and rewrites every segment URL through
// rewriteSegment.
func WriteMediaPlaylist(w io.Writer, ver string, body string, key CryptoKey, rewriteMap, rewriteKey URLRewriter, rewriteSegment func(relative string) string) error {
	hdr, segments, err := parseMediaPlaylist(body)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "#EXTM3U")
	fmt.Fprintln(bw, hdr.version)
	fmt.Fprintln(bw, hdr.targetDuration)
	fmt.Fprintln(bw, hdr.mediaSequence)
	fmt.Fprintln(bw, hdr.playlistType)

	keyBytes, iv, err := key.Bytes()
	if err != nil {
		return err
	}
	bits := len(keyBytes) * 8
	fmt.Fprintf(bw, "#EXT-X-KEY:METHOD=AES-%d,URI=%q,IV=0x%s\n", bits, rewriteKey(ver+"/"+cryptoKeyFileName), hexUpper(iv))

	fmt.Fprintln(bw, "#EXT-X-MAP:URI="+strconv.Quote(rewriteMap(ver+"/"+initMapName)))

	for _, seg := range segments {
		fmt.Fprintf(bw, "#EXTINF:%s,\n%s\n", seg.duration, rewriteSegment(ver+"/"+seg.relative))
	}

	return bw.Flush()
}

func hexUpper(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

package job

import (
	"path"
	"strings"
)

// PlaylistRewriter rewrites M3U8 playlists to reference hash-named
// segment and sub-playlist files, the names under which they were
// actually uploaded to Blossom. Parsing is a line-wise walk over the
// M3U8 grammar subset this pipeline produces (comment lines, a
// handful of URI-bearing tags, and bare segment/playlist filename
// lines) rather than regex matching, since the set of shapes is small
// and fixed.
type PlaylistRewriter struct {
	segmentHashes map[string]string
}

// NewPlaylistRewriter constructs an empty rewriter.
func NewPlaylistRewriter() *PlaylistRewriter {
	return &PlaylistRewriter{segmentHashes: map[string]string{}}
}

// AddSegment registers a segment (or init-section) file's hash.
func (r *PlaylistRewriter) AddSegment(originalName, hash string) {
	r.segmentHashes[originalName] = hash
}

// segmentLineExtensions are the filename suffixes this rewriter
// recognizes as standalone segment references.
var segmentLineExtensions = []string{".m4s", ".ts", ".mp4"}

// RewriteContent rewrites a rung playlist's body: every URI="..."
// attribute (as found in #EXT-X-MAP and similar tags) and every bare
// segment-filename line is replaced with its hashed name, preserving
// the original extension.
func (r *PlaylistRewriter) RewriteContent(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#"):
			out = append(out, r.rewriteTagLine(line))
		case isSegmentLine(line):
			out = append(out, r.rewriteName(line))
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func isSegmentLine(line string) bool {
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	for _, ext := range segmentLineExtensions {
		if strings.HasSuffix(line, ext) {
			return true
		}
	}
	return false
}

func (r *PlaylistRewriter) rewriteTagLine(line string) string {
	const marker = `URI="`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return line
	}
	start := idx + len(marker)
	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return line
	}
	original := line[start : start+end]
	hash, ok := r.segmentHashes[original]
	if !ok {
		return line
	}
	return strings.Replace(line, original, hash+path.Ext(original), 1)
}

func (r *PlaylistRewriter) rewriteName(original string) string {
	hash, ok := r.segmentHashes[original]
	if !ok {
		return original
	}
	return hash + path.Ext(original)
}

// RewriteMasterPlaylist replaces each rung-playlist filename
// reference with its hashed name, given the map of original rung
// playlist filename to hash.
func (r *PlaylistRewriter) RewriteMasterPlaylist(content string, playlistHashes map[string]string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			out = append(out, line)
			continue
		}
		if strings.HasSuffix(line, ".m3u8") {
			if hash, ok := playlistHashes[line]; ok {
				out = append(out, hash+".m3u8")
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// MasterRung describes one #EXT-X-STREAM-INF entry parsed from a
// master playlist: its resolution, codecs, and the rung playlist
// filename that follows it.
type MasterRung struct {
	Resolution   string
	Codecs       string
	PlaylistFile string
}

// ParseMasterPlaylist extracts the stream-inf rungs from a master
// playlist's content, in file order (the caller sorts by descending
// height per spec).
func ParseMasterPlaylist(content string) []MasterRung {
	var rungs []MasterRung
	lines := strings.Split(content, "\n")

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		rung := MasterRung{
			Resolution: extractAttr(line, "RESOLUTION="),
			Codecs:     strings.Trim(extractAttr(line, "CODECS="), `"`),
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "" {
				continue
			}
			if !strings.HasPrefix(lines[j], "#") {
				rung.PlaylistFile = lines[j]
			}
			break
		}
		rungs = append(rungs, rung)
	}
	return rungs
}

func extractAttr(line, key string) string {
	idx := strings.Index(line, key)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(key):]
	if strings.HasPrefix(rest, `"`) {
		end := strings.Index(rest[1:], `"`)
		if end < 0 {
			return rest
		}
		return rest[:end+2]
	}
	end := strings.IndexAny(rest, ",")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

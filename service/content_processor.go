package service

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

var DefaultChunkingConfig = types.ChunkingConfig{
	ChunkSize:    1000,
	ChunkOverlap: 200,
	MinChunkSize: 100,
}

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	controlCharRe  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	abbreviationRe = regexp.MustCompile(`(Mr|Mrs|Ms|Dr|Prof|Sr|Jr|vs|etc|e\.g|i\.e)\.`)
	headerLineRe   = regexp.MustCompile(`^#{1,6}\s+\S`)
	codeBlockRe    = regexp.MustCompile("```[\\s\\S]*?```")

	quoteReplacer = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

const periodPlaceholder = "<PERIOD>"

// ContentProcessor cleans, deduplicates and chunks documents for the
// vector index. The dedup cache lives as long as the processor.
type ContentProcessor struct {
	chunkSize    int
	chunkOverlap int
	minChunkSize int
	now          func() time.Time

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewContentProcessor(cfg types.ChunkingConfig) *ContentProcessor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkingConfig.ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = min(DefaultChunkingConfig.ChunkOverlap, cfg.ChunkSize/2)
	}
	if cfg.MinChunkSize < 0 {
		cfg.MinChunkSize = 0
	}
	return &ContentProcessor{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		minChunkSize: cfg.MinChunkSize,
		now:          time.Now,
		seen:         make(map[string]struct{}),
	}
}

// Process turns documents into chunk texts, metadata and stable ids.
// With deduplicate set, a document whose cleaned content was seen before is
// skipped.
func (p *ContentProcessor) Process(docs []types.Document, deduplicate bool) types.ProcessedChunks {
	var out types.ProcessedChunks
	for _, doc := range docs {
		content := CleanText(doc.Content)
		if content == "" || runeLen(content) < p.minChunkSize {
			continue
		}

		hash := HashContent(content)
		if !p.markSeen(hash) && deduplicate {
			logger.L().Debugw("Skipping duplicate document", "source_name", doc.Metadata["source_name"])
			continue
		}

		sourceURL := ""
		if v, ok := doc.Metadata["source_url"]; ok && v != nil {
			sourceURL = fmt.Sprint(v)
		}

		chunks := p.ChunkText(content)
		for idx, chunk := range chunks {
			size := runeLen(chunk)
			if size < p.minChunkSize {
				continue
			}
			meta := make(map[string]any, len(doc.Metadata)+5)
			maps.Copy(meta, doc.Metadata)
			meta["chunk_index"] = idx
			meta["total_chunks"] = len(chunks)
			meta["chunk_size"] = size
			meta["processed_at"] = p.now().UTC().Format(time.RFC3339)
			meta["content_hash"] = hash

			out.Texts = append(out.Texts, chunk)
			out.Metadatas = append(out.Metadatas, meta)
			out.IDs = append(out.IDs, ChunkID(hash, idx, sourceURL))
		}
	}
	logger.L().Debugw("Processed documents", "documents", len(docs), "chunks", out.Len())
	return out
}

// markSeen records hash and reports whether it was new.
func (p *ContentProcessor) markSeen(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[hash]; ok {
		return false
	}
	p.seen[hash] = struct{}{}
	return true
}

// ChunkText splits text into chunks of at most chunkSize characters,
// breaking at sentence boundaries and carrying trailing sentences of up to
// chunkOverlap characters into the next chunk.
func (p *ContentProcessor) ChunkText(text string) []string {
	if runeLen(text) <= p.chunkSize {
		return []string{text}
	}

	var (
		chunks  []string
		current []string
		curSize int
	)
	for _, sentence := range SplitSentences(text) {
		size := runeLen(sentence)

		if size > p.chunkSize {
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
				current, curSize = nil, 0
			}
			chunks = append(chunks, p.hardSplit(sentence)...)
			continue
		}

		if curSize+size > p.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			overlapSize := 0
			start := len(current)
			for i := len(current) - 1; i >= 0; i-- {
				n := runeLen(current[i])
				if overlapSize+n > p.chunkOverlap {
					break
				}
				overlapSize += n
				start = i
			}
			current = append([]string(nil), current[start:]...)
			curSize = overlapSize
		}

		current = append(current, sentence)
		curSize += size
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// hardSplit cuts an oversized sentence into fixed windows.
func (p *ContentProcessor) hardSplit(sentence string) []string {
	runes := []rune(sentence)
	step := max(p.chunkSize-p.chunkOverlap, 1)
	var out []string
	for i := 0; i < len(runes); i += step {
		end := min(i+p.chunkSize, len(runes))
		window := string(runes[i:end])
		if strings.TrimSpace(window) != "" {
			out = append(out, window)
		}
	}
	return out
}

// ChunkByHeaders groups markdown text by its header lines. Each section
// carries subsection_title and subsection_index; sections longer than the
// chunk size are split further and tagged with sub_chunk_index.
func (p *ContentProcessor) ChunkByHeaders(text string, metadata map[string]any) []types.Document {
	title := "Introduction"
	if v, ok := metadata["section_title"].(string); ok && v != "" {
		title = v
	}

	var sections []types.Document
	var current strings.Builder
	flush := func() {
		content := strings.TrimSpace(current.String())
		current.Reset()
		if content == "" {
			return
		}
		meta := make(map[string]any, len(metadata)+2)
		maps.Copy(meta, metadata)
		meta["subsection_title"] = title
		meta["subsection_index"] = len(sections)
		sections = append(sections, types.Document{Content: content, Metadata: meta})
	}

	for _, line := range strings.Split(text, "\n") {
		if headerLineRe.MatchString(line) {
			flush()
			title = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "#"))
			current.WriteString(line)
			current.WriteString("\n")
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	var out []types.Document
	for _, section := range sections {
		if runeLen(section.Content) <= p.chunkSize {
			out = append(out, section)
			continue
		}
		for idx, sub := range p.ChunkText(section.Content) {
			meta := make(map[string]any, len(section.Metadata)+1)
			maps.Copy(meta, section.Metadata)
			meta["sub_chunk_index"] = idx
			out = append(out, types.Document{Content: sub, Metadata: meta})
		}
	}
	return out
}

// ChunkCodeBlocks chunks text without ever splitting a fenced code block.
func (p *ContentProcessor) ChunkCodeBlocks(text string) []string {
	blocks := codeBlockRe.FindAllString(text, -1)
	for i, block := range blocks {
		text = strings.Replace(text, block, codePlaceholder(i), 1)
	}
	chunks := p.ChunkText(text)
	for i, block := range blocks {
		placeholder := codePlaceholder(i)
		for j := range chunks {
			chunks[j] = strings.ReplaceAll(chunks[j], placeholder, block)
		}
	}
	return chunks
}

func codePlaceholder(i int) string {
	return fmt.Sprintf("<CODE_BLOCK_%d>", i)
}

func (p *ContentProcessor) ResetDeduplication() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.seen)
}

func (p *ContentProcessor) Stats() types.ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.ProcessorStats{
		ChunkSize:       p.chunkSize,
		ChunkOverlap:    p.chunkOverlap,
		MinChunkSize:    p.minChunkSize,
		ProcessedHashes: len(p.seen),
	}
}

// SplitSentences splits after '.', '!' or '?' followed by whitespace,
// leaving common abbreviations intact.
func SplitSentences(text string) []string {
	text = abbreviationRe.ReplaceAllString(text, "${1}"+periodPlaceholder)

	var parts []string
	start := 0
	for i := 0; i < len(text); {
		c := text[i]
		if c == '.' || c == '!' || c == '?' {
			j := i + 1
			for j < len(text) {
				r, size := utf8.DecodeRuneInString(text[j:])
				if !unicode.IsSpace(r) {
					break
				}
				j += size
			}
			if j > i+1 {
				parts = append(parts, text[start:i+1])
				start, i = j, j
				continue
			}
		}
		i++
	}
	parts = append(parts, text[start:])

	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ReplaceAll(part, periodPlaceholder, "."))
		if part != "" {
			sentences = append(sentences, part)
		}
	}
	return sentences
}

// CleanText collapses whitespace, strips control characters and
// normalizes curly quotes.
func CleanText(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = controlCharRe.ReplaceAllString(text, "")
	text = quoteReplacer.Replace(text)
	return strings.TrimSpace(text)
}

// HashContent is the hex sha256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a stable chunk id from the document hash, the chunk
// position and the source url.
func ChunkID(contentHash string, idx int, sourceURL string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d_%s", contentHash, idx, sourceURL)))
	return "jwt_doc_" + hex.EncodeToString(sum[:])[:16]
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

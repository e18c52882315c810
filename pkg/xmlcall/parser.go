package xmlcall

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

// TagResolver maps legacy tag names to function names. tools.Registry
// satisfies it.
type TagResolver interface {
	ResolveTag(tag string) (string, bool)
}

// Parser turns extracted blocks into normalized call records.
type Parser struct {
	resolver TagResolver
}

// NewParser creates a parser. resolver may be nil when the legacy grammar is
// not in use.
func NewParser(resolver TagResolver) *Parser {
	return &Parser{resolver: resolver}
}

type xmlFunctionCalls struct {
	XMLName xml.Name    `xml:"function_calls"`
	Invokes []xmlInvoke `xml:"invoke"`
}

type xmlInvoke struct {
	Name       string         `xml:"name,attr"`
	Parameters []xmlParameter `xml:"parameter"`
}

type xmlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",innerxml"`
}

type legacyElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",innerxml"`
}

// ParseBlock parses one extracted block into call records. Blocks outside
// the dialect return an error; callers treat that as "no call".
func (p *Parser) ParseBlock(block Block) ([]tools.Call, error) {
	if block.Legacy {
		return p.parseLegacy(block)
	}

	var parsed xmlFunctionCalls
	dec := xml.NewDecoder(strings.NewReader(block.Content))
	dec.Strict = false
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode call block: %w", err)
	}

	var calls []tools.Call
	for _, inv := range parsed.Invokes {
		name := strings.TrimSpace(inv.Name)
		if name == "" {
			continue
		}

		args := map[string]interface{}{}
		for _, param := range inv.Parameters {
			pname := strings.TrimSpace(param.Name)
			if pname == "" {
				continue
			}
			args[pname] = decodeValue(param.Value)
		}

		calls = append(calls, tools.NewXMLCall(name, "", args, &tools.ParsingDetails{
			RawBlock:    block.Content,
			StartOffset: block.Start,
			EndOffset:   block.End,
		}))
	}

	if len(calls) == 0 {
		return nil, fmt.Errorf("block holds no invoke elements")
	}

	return calls, nil
}

func (p *Parser) parseLegacy(block Block) ([]tools.Call, error) {
	var el legacyElement
	dec := xml.NewDecoder(strings.NewReader(block.Content))
	dec.Strict = false
	if err := dec.Decode(&el); err != nil {
		return nil, fmt.Errorf("decode legacy block: %w", err)
	}

	tag := block.TagName
	if tag == "" {
		tag = el.XMLName.Local
	}

	functionName := tag
	if p.resolver != nil {
		if name, ok := p.resolver.ResolveTag(tag); ok {
			functionName = name
		}
	}

	inner := cleanInner(el.Content)

	// Attributes become kwargs; bare inner text stays a single value so the
	// invoker's coercion rules apply to it.
	var args interface{}
	if len(el.Attrs) > 0 {
		m := map[string]interface{}{}
		for _, attr := range el.Attrs {
			m[attr.Name.Local] = attr.Value
		}
		if inner != "" {
			m["content"] = inner
		}
		args = m
	} else {
		args = inner
	}

	return []tools.Call{tools.NewXMLCall(functionName, tag, args, &tools.ParsingDetails{
		RawBlock:    block.Content,
		StartOffset: block.Start,
		EndOffset:   block.End,
		Legacy:      true,
	})}, nil
}

// decodeValue tries a JSON read of a parameter value so numbers, booleans,
// and structured values survive; anything else stays the raw trimmed string.
func decodeValue(raw string) interface{} {
	cleaned := cleanInner(raw)

	var decoded interface{}
	if err := json.Unmarshal([]byte(cleaned), &decoded); err == nil {
		return decoded
	}

	return cleaned
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// cleanInner unwraps CDATA, unescapes the basic entities, and trims space.
// Models escape inconsistently, so this stays deliberately lenient.
func cleanInner(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "<![CDATA[") && strings.HasSuffix(s, "]]>") {
		s = s[len("<![CDATA[") : len(s)-len("]]>")]
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(entityReplacer.Replace(s))
}

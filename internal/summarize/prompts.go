package summarize

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/boletin-cli/internal/model"
)

// Prompts holds the system instructions sent with each kind of unit.
type Prompts struct {
	Short      string `yaml:"short"`
	Long       string `yaml:"long"`
	Attachment string `yaml:"attachment"`
	Tender     string `yaml:"tender"`
}

// DefaultPrompts returns the built-in Spanish instructions.
func DefaultPrompts() Prompts {
	return Prompts{
		Short: `Eres un analista de gastos públicos argentinos.
Dada una norma del Boletín Oficial, explica en UNA sola oración de 15-25 palabras cuál es el fin o propósito de la norma.
Responde SOLO con la oración, sin formato adicional.`,
		Long: `Eres un analista de gastos públicos argentinos.
Dado un gasto del gobierno, explica en 2 o 3 oraciones qué se contrata o aprueba, quién lo ejecuta y con qué fin.
Responde SOLO con el texto, sin formato adicional.`,
		Attachment: `Eres un analista de documentos públicos argentinos.
Dado un anexo de una norma del Boletín Oficial, describe en UNA sola oración de 15-25 palabras qué contiene.
Responde SOLO con la oración, sin formato adicional.`,
		Tender: `Eres un analista de compras públicas argentinas.
Dada una licitación, explica en UNA sola oración de 15-25 palabras qué se busca adquirir o contratar.
Responde SOLO con la oración, sin formato adicional.`,
	}
}

// LoadPrompts reads instructions from a YAML file with a top-level
// "prompts" key. Instructions missing from the file keep their defaults.
func LoadPrompts(path string) (Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, eris.Wrapf(err, "summarize: read prompts %s", path)
	}

	var wrapper struct {
		Prompts Prompts `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Prompts{}, eris.Wrap(err, "summarize: parse prompts")
	}

	p := DefaultPrompts()
	if s := strings.TrimSpace(wrapper.Prompts.Short); s != "" {
		p.Short = s
	}
	if s := strings.TrimSpace(wrapper.Prompts.Long); s != "" {
		p.Long = s
	}
	if s := strings.TrimSpace(wrapper.Prompts.Attachment); s != "" {
		p.Attachment = s
	}
	if s := strings.TrimSpace(wrapper.Prompts.Tender); s != "" {
		p.Tender = s
	}
	return p, nil
}

// excerptPromptChars bounds the document text quoted in a norm prompt.
const excerptPromptChars = 400

// NormPrompt renders the message describing a norm.
func NormPrompt(n model.Norm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Norma: %s\n", n.Title)
	if n.IsExpenditure() {
		amount := n.Outcome.AmountFormatted
		if amount == "" {
			amount = model.FormatAmount(n.Outcome.Amount)
		}
		fmt.Fprintf(&b, "Monto: %s\n", amount)
	}
	fmt.Fprintf(&b, "Organismo: %s\n", n.Organization)
	fmt.Fprintf(&b, "Sumario: %s", n.Summary)
	if n.Outcome.Excerpt != "" {
		fmt.Fprintf(&b, "\nTexto: %s", truncateRunes(n.Outcome.Excerpt, excerptPromptChars))
	}
	return b.String()
}

// AttachmentPrompt renders the message describing an attachment and the
// text extracted from it.
func AttachmentPrompt(n model.Norm, a model.Attachment, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Anexo: %s\n", a.Name)
	fmt.Fprintf(&b, "Norma: %s\n", n.Title)
	fmt.Fprintf(&b, "Organismo: %s", n.Organization)
	if t := strings.TrimSpace(text); t != "" {
		fmt.Fprintf(&b, "\nTexto: %s", t)
	}
	return b.String()
}

// TenderPrompt renders the message describing a tender.
func TenderPrompt(t model.Tender) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Licitación: %s\n", t.Number)
	fmt.Fprintf(&b, "Título: %s\n", t.Title)
	fmt.Fprintf(&b, "Tipo: %s\n", t.Type)
	fmt.Fprintf(&b, "Unidad: %s\n", t.Unit)
	fmt.Fprintf(&b, "Monto: %s", t.AmountLabel())
	return b.String()
}

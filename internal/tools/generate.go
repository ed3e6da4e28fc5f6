package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/ZanzyTHEbar/toolweave"
)

type templateData struct {
	ClassName string
	Namespace string
	BaseClass string
	Summary   string
	Members   []string
}

var codeTemplates = map[string]*template.Template{
	"singleton": template.Must(template.New("singleton").Parse(`namespace {{.Namespace}}
{
    public class {{.ClassName}} : MonoBehaviour
    {
        public static {{.ClassName}} Instance { get; private set; }

        private void Awake()
        {
            if (Instance != null && Instance != this)
            {
                Destroy(gameObject);
                return;
            }
            Instance = this;
            DontDestroyOnLoad(gameObject);
        }
    }
}
`)),
	"observer": template.Must(template.New("observer").Parse(`namespace {{.Namespace}}
{
    public static class {{.ClassName}}
    {
        private static readonly List<Action> listeners = new List<Action>();

        public static void Subscribe(Action listener) => listeners.Add(listener);

        public static void Unsubscribe(Action listener) => listeners.Remove(listener);

        public static void Raise()
        {
            foreach (var listener in listeners.ToArray())
            {
                listener();
            }
        }
    }
}
`)),
	"scriptable_object": template.Must(template.New("scriptable_object").Parse(`namespace {{.Namespace}}
{
    [CreateAssetMenu(fileName = "{{.ClassName}}", menuName = "Data/{{.ClassName}}")]
    public class {{.ClassName}} : ScriptableObject
    {
    }
}
`)),
	"state_machine": template.Must(template.New("state_machine").Parse(`namespace {{.Namespace}}
{
    public enum {{.ClassName}}State { Idle, Active }

    public class {{.ClassName}} : MonoBehaviour
    {
        public {{.ClassName}}State State { get; private set; }

        public void ChangeState({{.ClassName}}State next)
        {
            if (State == next)
            {
                return;
            }
            OnStateExit(State);
            State = next;
            OnStateEnter(next);
        }

        protected virtual void OnStateEnter({{.ClassName}}State state) { }

        protected virtual void OnStateExit({{.ClassName}}State state) { }
    }
}
`)),
	"class": template.Must(template.New("class").Parse(`namespace {{.Namespace}}
{
    // {{.Summary}}
    public class {{.ClassName}}{{if .BaseClass}} : {{.BaseClass}}{{end}}
    {
{{- range .Members}}
        public void {{.}}()
        {
        }
{{end}}    }
}
`)),
}

// TemplateNames lists the templates apply_code_template accepts.
func TemplateNames() []string {
	names := make([]string, 0, len(codeTemplates))
	for name := range codeTemplates {
		if name != "class" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func render(name string, data templateData) (string, error) {
	tmpl, ok := codeTemplates[name]
	if !ok {
		return "", fmt.Errorf("template '%s' not found", name)
	}
	if data.Namespace == "" {
		data.Namespace = "Game"
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render template '%s': %w", name, err)
	}
	return sb.String(), nil
}

var (
	identPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]+\b`)
	verbPattern  = regexp.MustCompile(`(?i)\b(?:can|should|to)\s+([a-z]+)`)
)

// nameFromDescription picks a class name from a free-text description,
// preferring an explicit PascalCase identifier.
func nameFromDescription(desc string) string {
	if m := identPattern.FindString(desc); m != "" && len(m) > 2 {
		return m
	}
	var parts []string
	for _, w := range strings.Fields(desc) {
		w = strings.Trim(w, ".,;:!?\"'")
		if len(w) < 3 {
			continue
		}
		parts = append(parts, strings.ToUpper(w[:1])+strings.ToLower(w[1:]))
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return "GeneratedClass"
	}
	return strings.Join(parts, "")
}

func membersFromDescription(desc string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range verbPattern.FindAllStringSubmatch(desc, -1) {
		name := strings.ToUpper(m[1][:1]) + m[1][1:]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// GenerateCode renders a class skeleton from a description.
func (t *Toolset) GenerateCode(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	desc := str(p, "description")
	data := templateData{
		ClassName: str(p, "className"),
		BaseClass: str(p, "baseClass"),
		Summary:   desc,
		Members:   membersFromDescription(desc),
	}
	if data.ClassName == "" {
		data.ClassName = nameFromDescription(desc)
	}
	if data.BaseClass == "" && strings.Contains(strings.ToLower(desc), "component") {
		data.BaseClass = "MonoBehaviour"
	}
	if base, ok := t.index.Lookup(data.BaseClass); ok {
		data.Namespace = base.Namespace
		data.BaseClass = base.Name
	}

	code, err := render("class", data)
	if err != nil {
		return nil, err
	}
	return generated(data, code, "class"), nil
}

// ApplyCodeTemplate renders one of the named pattern templates.
func (t *Toolset) ApplyCodeTemplate(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	name := strings.ToLower(str(p, "templateName"))
	if _, ok := codeTemplates[name]; !ok || name == "class" {
		return &toolweave.ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("template '%s' not found; available: %s", name, strings.Join(TemplateNames(), ", ")),
		}, nil
	}
	data := templateData{ClassName: str(p, "className"), Namespace: str(p, "namespace")}
	if data.ClassName == "" {
		data.ClassName = nameFromDescription(strings.ReplaceAll(name, "_", " "))
	}
	code, err := render(name, data)
	if err != nil {
		return nil, err
	}
	return generated(data, code, name), nil
}

func generated(data templateData, code, tmpl string) *toolweave.ToolResponse {
	file := fmt.Sprintf("Assets/Scripts/Generated/%s.cs", data.ClassName)
	meta := toolweave.Params{
		"className": toolweave.String(data.ClassName),
		"name":      toolweave.String(data.ClassName),
		"filePath":  toolweave.String(file),
		"template":  toolweave.String(tmpl),
	}
	return &toolweave.ToolResponse{
		Success:  true,
		Data:     []toolweave.Item{{Content: code, Metadata: meta.Clone()}},
		Metadata: meta,
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

type OutputOptions struct {
	Format OutputFormat
	Quiet  bool
	Writer io.Writer
}

func NewOutputOptions() *OutputOptions {
	return &OutputOptions{
		Format: OutputTable,
		Writer: os.Stdout,
	}
}

func FormatOutput(data any, format OutputFormat) (string, error) {
	switch format {
	case OutputJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal JSON: %w", err)
		}
		return string(b) + "\n", nil
	case OutputYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal YAML: %w", err)
		}
		return string(b), nil
	default:
		return formatTable(data), nil
	}
}

// formatTable renders a slice of structs as columns named by their yaml
// tags, a struct or map as key/value rows, and anything else with %v.
func formatTable(data any) string {
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	switch v.Kind() {
	case reflect.Invalid:
		return ""
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "No items\n"
		}
		headers := columns(v.Index(0))
		fmt.Fprintln(w, strings.ToUpper(strings.Join(headers, "\t")))
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, strings.Join(rowValues(v.Index(i), len(headers)), "\t"))
		}
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			fmt.Fprintf(w, "%v\t%s\n", k.Interface(), formatValue(v.MapIndex(k).Interface()))
		}
	case reflect.Struct:
		headers := columns(v)
		values := rowValues(v, len(headers))
		for i, h := range headers {
			fmt.Fprintf(w, "%s\t%s\n", h, values[i])
		}
	default:
		return fmt.Sprintf("%v\n", v.Interface())
	}

	w.Flush()
	return sb.String()
}

func columns(v reflect.Value) []string {
	v = reflect.Indirect(v)
	if v.Kind() != reflect.Struct {
		return []string{"value"}
	}

	t := v.Type()
	var names []string
	for i := 0; i < t.NumField(); i++ {
		if name, ok := fieldName(t.Field(i)); ok {
			names = append(names, name)
		}
	}
	return names
}

func rowValues(v reflect.Value, n int) []string {
	v = reflect.Indirect(v)
	if v.Kind() != reflect.Struct {
		return []string{formatValue(v.Interface())}
	}

	values := make([]string, 0, n)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if _, ok := fieldName(t.Field(i)); ok {
			values = append(values, formatValue(v.Field(i).Interface()))
		}
	}
	return values
}

func fieldName(f reflect.StructField) (string, bool) {
	if f.PkgPath != "" {
		return "", false
	}
	tag := f.Tag.Get("yaml")
	if tag == "-" {
		return "", false
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, true
	}
	return strings.ToLower(f.Name), true
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return ""
		}
		v = rv.Elem().Interface()
	}

	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.Local().Format(time.DateTime)
	case time.Duration:
		return val.String()
	case []string:
		return strings.Join(val, ",")
	case float32, float64:
		return fmt.Sprintf("%.2f", val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func PrintOutput(data any, opts *OutputOptions) error {
	if opts.Quiet {
		return nil
	}

	output, err := FormatOutput(data, opts.Format)
	if err != nil {
		return err
	}

	fmt.Fprint(opts.Writer, output)
	return nil
}

// PrintError writes err to stderr in the selected format.
func PrintError(err error, opts *OutputOptions) {
	printErrorTo(os.Stderr, err, opts)
}

func printErrorTo(w io.Writer, err error, opts *OutputOptions) {
	data := map[string]any{
		"success": false,
		"error":   map[string]string{"message": err.Error()},
	}
	switch opts.Format {
	case OutputJSON:
		b, _ := json.MarshalIndent(data, "", "  ")
		fmt.Fprintln(w, string(b))
	case OutputYAML:
		b, _ := yaml.Marshal(data)
		fmt.Fprint(w, string(b))
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}

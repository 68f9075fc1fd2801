package ncm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ncmcheck/internal/util"
)

// Field name spellings seen in upstream exports, in lookup order.
var (
	CollectionKeys  = []string{"Nomenclaturas", "nomenclaturas"}
	CodeKeys        = []string{"Codigo", "codigo"}
	DescriptionKeys = []string{"Descricao", "descricao", "Descrição", "descrição"}
	StartKeys       = []string{"Data_Inicio", "data_inicio", "DataInicio"}
	EndKeys         = []string{"Data_Fim", "data_fim", "DataFim"}
	AsOfKeys        = []string{"Data_Ultima_Atualizacao_NCM", "data_ultima_atualizacao_ncm"}
)

// ResolveField returns the first present value among keys. A key is present
// when it exists with a non-nil, non-blank value. Exact names are tried first;
// then each candidate is compared case- and accent-insensitively against the
// record's own keys (in sorted order, so the result is deterministic).
func ResolveField(fields map[string]any, keys []string) (any, bool) {
	if len(fields) == 0 {
		return nil, false
	}
	for _, key := range keys {
		if v, ok := fields[key]; ok && present(v) {
			return v, true
		}
	}

	own := make([]string, 0, len(fields))
	for k := range fields {
		own = append(own, k)
	}
	sort.Strings(own)
	for _, key := range keys {
		want := util.FoldKey(key)
		for _, k := range own {
			if util.FoldKey(k) == want && present(fields[k]) {
				return fields[k], true
			}
		}
	}
	return nil, false
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case *string:
		return t != nil && strings.TrimSpace(*t) != ""
	default:
		return true
	}
}

func resolveString(fields map[string]any, keys []string) (string, bool) {
	v, ok := ResolveField(fields, keys)
	if !ok {
		return "", false
	}
	s := strings.TrimSpace(stringValue(v))
	return s, s != ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

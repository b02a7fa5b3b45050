package types

// DataType is one of the closed set of port/value types the registry uses
// for connection compatibility checks.
type DataType string

const (
	TypeAny             DataType = "any"
	TypeString          DataType = "string"
	TypeNumber          DataType = "number"
	TypeBoolean         DataType = "boolean"
	TypeObject          DataType = "object"
	TypeArray           DataType = "array"
	TypeJSON            DataType = "json"
	TypeFile            DataType = "file"
	TypeImage           DataType = "image"
	TypeBinary          DataType = "binary"
	TypeHTML            DataType = "html"
	TypeTable           DataType = "table"
	TypeBrowserInstance DataType = "browser_instance"
	TypeBrowserPage     DataType = "browser_page"
	TypeBrowserElement  DataType = "browser_element"
	TypeAIModel         DataType = "ai_model"
	TypeAIMemory        DataType = "ai_memory"
	TypeAITool          DataType = "ai_tool"
	TypeCredential      DataType = "credential"
	TypeHTTPResponse    DataType = "http_response"
)

// allTypes backs validation of declared input_types/output_types.
var allTypes = map[DataType]bool{
	TypeAny: true, TypeString: true, TypeNumber: true, TypeBoolean: true,
	TypeObject: true, TypeArray: true, TypeJSON: true, TypeFile: true,
	TypeImage: true, TypeBinary: true, TypeHTML: true, TypeTable: true,
	TypeBrowserInstance: true, TypeBrowserPage: true, TypeBrowserElement: true,
	TypeAIModel: true, TypeAIMemory: true, TypeAITool: true,
	TypeCredential: true, TypeHTTPResponse: true,
}

// IsKnownType reports whether t is a member of the closed data-type set.
func IsKnownType(t DataType) bool {
	return allTypes[t]
}

// hierarchy declares the "is-a" relationships used by type compatibility:
// hierarchy[child] = parent. A child satisfies any port declared as parent.
var hierarchy = map[DataType]DataType{
	TypeBrowserPage:    TypeBrowserInstance,
	TypeBrowserElement: TypeBrowserPage,
	TypeObject:         TypeJSON,
	TypeArray:          TypeJSON,
	TypeString:         TypeAny,
	TypeNumber:         TypeAny,
	TypeBoolean:        TypeAny,
}

// IsCompatible reports whether a value declared as `from` may flow into a
// port declared as `to`, exact match, `any` accepts anything,
// and the declared hierarchy (browser_page ⊆ browser_instance, object ⊆
// json, primitives ⊆ any).
func IsCompatible(from, to DataType) bool {
	if to == TypeAny || from == to {
		return true
	}
	cur := from
	for {
		parent, ok := hierarchy[cur]
		if !ok {
			return false
		}
		if parent == to {
			return true
		}
		cur = parent
	}
}

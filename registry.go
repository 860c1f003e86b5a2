package planwatch

import "strings"

// TaskMeta describes how a backend task type is presented to the user.
// The Agent field names the backend worker that owns the task type.
type TaskMeta struct {
	Name        string
	Description string
	Agent       string
}

// taskRegistry maps backend task types to display metadata. The entries
// mirror the agent capabilities the backend registers for plan execution.
var taskRegistry = map[string]TaskMeta{
	"schema_discovery": {
		Name:        "Schema Discovery",
		Description: "Discovers database schema, tables, columns, relationships",
		Agent:       "schema_discoverer",
	},
	"semantic_understanding": {
		Name:        "Semantic Understanding",
		Description: "Understands business intent and extracts entities",
		Agent:       "semantic_analyzer",
	},
	"similarity_matching": {
		Name:        "Similarity Matching",
		Description: "Performs similarity matching between query and schema",
		Agent:       "vector_matcher",
	},
	"query_generation": {
		Name:        "Query Generation",
		Description: "Generates SQL queries with validation and safety checks",
		Agent:       "query_builder",
	},
	"validation": {
		Name:        "Validation",
		Description: "Validates generated queries before execution",
		Agent:       "query_builder",
	},
	"execution": {
		Name:        "Execution",
		Description: "Safely executes queries and handles results",
		Agent:       "query_executor",
	},
	"visualization": {
		Name:        "Visualization",
		Description: "Creates interactive visualizations and summaries",
		Agent:       "visualizer",
	},
	"user_interaction": {
		Name:        "User Interaction",
		Description: "Interacts with user to confirm schema selections and queries",
		Agent:       "user_verifier",
	},
}

// LookupTaskMeta returns display metadata for a backend task type. Unknown
// task types get a humanized name and a generic description so a plan with
// task types this client has never seen still renders.
func LookupTaskMeta(taskType string) TaskMeta {
	if meta, ok := taskRegistry[taskType]; ok {
		return meta
	}
	return TaskMeta{
		Name:        humanizeTaskType(taskType),
		Description: "Executes the " + humanizeTaskType(taskType) + " step",
	}
}

// humanizeTaskType turns a task type like "schema_discovery" into
// "Schema Discovery": underscores become spaces and each word is
// capitalized.
func humanizeTaskType(taskType string) string {
	words := strings.Split(strings.ReplaceAll(taskType, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

package hierarchy

// Agent identities known to the default graph.
const (
	AgentPaul          = "Paul"
	AgentPlannerPaul   = "planner-paul"
	AgentWorkerPaul    = "worker-paul"
	AgentTestRunner    = "Joshua (Test Runner)"
	AgentCodeReviewer  = "Timothy (Implementation Reviewer)"
	AgentPlanReviewer  = "Nathan (Plan Reviewer)"
	AgentSpecReviewer  = "Elijah (Spec Reviewer)"
	AgentExplore       = "explore"
	AgentLibrarian     = "librarian"
	AgentFrontend      = "frontend-ui-ux-engineer"
	AgentDocWriter     = "document-writer"
	AgentGitMaster     = "git-master"
	AgentUltrabrain    = "ultrabrain"
	AgentMultimodal    = "multimodal-looker"
	AgentImplementer   = "Sam (Implementer)"
	AgentSpecWriter    = "Solomon (Spec Writer)"
	AgentDebugger      = "Luke (Debugger)"
	AgentSecurityAudit = "Silas (Security Auditor)"
)

// DefaultEdges is the built-in delegation table.
func DefaultEdges() map[string][]string {
	return map[string][]string{
		AgentPaul: {
			AgentImplementer,
			AgentTestRunner,
			AgentCodeReviewer,
			AgentDebugger,
			AgentExplore,
			AgentLibrarian,
			AgentFrontend,
			AgentDocWriter,
			AgentGitMaster,
			AgentUltrabrain,
			AgentMultimodal,
			AgentSecurityAudit,
		},
		AgentPlannerPaul: {
			AgentPaul,
			AgentSpecWriter,
			AgentPlanReviewer,
			AgentSpecReviewer,
			AgentExplore,
			AgentLibrarian,
		},
		AgentWorkerPaul: {
			AgentTestRunner,
			AgentExplore,
			AgentLibrarian,
			AgentDocWriter,
			AgentGitMaster,
		},
	}
}

// Default returns a graph built from DefaultEdges.
func Default(opts ...Option) *Graph {
	return New(DefaultEdges(), opts...)
}

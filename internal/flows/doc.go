// Package flows contains the orchestrators behind every Engine operation.
//
// Each Run* function takes a typed dependency struct, performs the flow
// against the collaborators in it and returns either a result or an
// *autherr.Error. The Engine builds the deps once; tests build them from
// in-memory fakes.
//
// Flows own no resources and keep no state between calls. They must not
// import the root authgate package.
package flows

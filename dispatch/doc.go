// Package dispatch runs tool invocations through identity resolution and the
// authorization gate.
//
// Tools are declared up front in a static Registry that maps each tool name
// to its capability requirement and handler. There is no discovery: a tool
// that is not in the table does not exist and is denied.
//
// For every call the Dispatcher:
//
//  1. looks the tool up (unknown tools are denied with not_found),
//  2. resolves the caller's credential with the process's auth.Resolver,
//  3. asks the auth.Gate whether the caller satisfies the requirement,
//  4. runs the handler with the AuthenticationContext attached to ctx.
//
// Every decision is audited by the gate, and every call is traced, counted
// and logged through observe.Middleware. Callers should present errors to
// clients with DenialCode so internal failures never leak.
package dispatch

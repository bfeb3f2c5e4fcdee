// Package sessions provides the expiring session store that transport
// adapters use to track interactive session lifecycles across stateless
// external requests. The Store interface is small enough that a
// Redis-backed implementation can replace the in-memory one without
// touching adapter code.
package sessions

// admin_stub.go covers the two administrative routes spec §6 marks as
// external-collaborator concerns the core surface still advertises but
// does not implement: credential issuance and live log tailing.
package main

import "net/http"

func loginStubHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotImplemented, "principal issuance is handled by an external collaborator")
}

func logsSSEStubHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotImplemented, "live log tailing is handled by an external collaborator")
}

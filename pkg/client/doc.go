// Package client is the Go SDK for the lotchain custody ledger API.
//
// Recording custody actions needs a session token, obtained with Login:
//
//	c := client.MustNew("https://ledger.example.org")
//	if _, err := c.Login(ctx, "coop@demo.com", password); err != nil {
//	    log.Fatal(err)
//	}
//	ev, err := c.Record(ctx, "LOT-2024-0042", client.RecordRequest{
//	    Type: custody.TypeReceivedByCooperative,
//	    Data: custody.Payload{"weightKg": 148},
//	})
//
// # Verifying without trusting the server
//
// Verify returns the server's own verdict. VerifyLocally downloads the lot's
// public chain and re-runs the hash chain validation in-process, so a buyer
// or auditor only has to trust this package:
//
//	verdict, err := client.MustNew(base).VerifyLocally(ctx, "LOT-2024-0042")
//	if err == nil && !verdict.Valid {
//	    fmt.Printf("chain diverges at event %s\n", verdict.FailedAt)
//	}
package client

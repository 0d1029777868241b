// Package mail keeps the store-and-forward mailbox that sits beside the
// real-time channels: user accounts, messages, spam scoring and optional
// message signatures.
//
// Store persists everything in SQLite. Passwords are hashed with bcrypt.
// Each sent message is scored by a Scorer, a NaiveBayesScorer trained on a
// small built-in corpus by default, and when a Signer is attached, signed
// with Ed25519 so recipients can check that the server stored what the
// sender wrote.
//
//	store, err := mail.Open("mail.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	store.CreateUser("alice", "secret", "Alice")
//	store.CreateUser("bob", "hunter2", "Bob")
//	store.Send(&mail.Message{Sender: "alice", Recipient: "bob", Subject: "hi", Body: "lunch?"})
//	inbox, _ := store.Inbox("bob")
package mail

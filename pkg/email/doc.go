// Package email sends transactional mail through a provider-agnostic
// EmailSender. The billing service uses it to deliver operational alerts.
//
// Two implementations are provided:
//   - NewPostmarkClient delivers through Postmark.
//   - NewDevSender writes each message to disk as an HTML body plus a JSON
//     metadata file, for local development.
//
// Both validate SendEmailParams before sending and wrap provider failures
// in ErrFailedToSendEmail.
package email

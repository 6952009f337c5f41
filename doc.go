// Package main implements portal-login, a CLI that signs in to a web portal
// protected by a CSRF token, a salted password hash and an image CAPTCHA, and
// saves the resulting session cookie.
//
// # Flow
//
//  1. GET LoginPage, scrape the REQ_CSRF_TOKEN input and the USER_SALT script literal
//  2. POST ReloadCaptcha, read the base64 image
//  3. Recognize the CAPTCHA with tesseract and/or a vision model, else ask on stdin
//  4. POST UserLogin with sha512(sha512(salt)+sha512(password)), save JSESSIONID
//
// # Usage
//
//	portal-login login  [--config PATH] [--reuse] [--no-prompt] [--attempts N]
//	portal-login status [--config PATH]
//	portal-login serve  [--config PATH]
//
// # Configuration
//
// Configuration is loaded from portal.json (optional), then from PORTAL_*
// environment variables, which may also come from a .env file. Nested keys use
// a double underscore: PORTAL_AI__API_KEY sets ai.api_key.
package main

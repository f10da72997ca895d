package scanning

// invoiceScanPrompt is the shared prompt used by all LLM providers for
// extracting payment data from a single invoice image.
const invoiceScanPrompt = `You are analyzing a photo of an invoice or bill, most likely German. Carefully read all text in the image and extract the payment information:

1. **Recipient**: The name of the company or person to be paid. Usually near the bank details or in the letterhead.

2. **IBAN**: The recipient's bank account number, e.g. "DE89 3704 0044 0532 0130 00". Look for "IBAN" labels. Read it character by character; a single wrong digit makes the payment fail.

3. **BIC**: The bank identifier code if printed, e.g. "COBADEFFXXX".

4. **Amount**: The total amount due. German invoices label it "Betrag", "Gesamtbetrag", "Rechnungsbetrag" or "Summe". Use a plain number, e.g. 123.45.

5. **Currency**: The ISO currency code, normally "EUR".

6. **Reference**: The payment reference the recipient asks for, labeled "Verwendungszweck", "Kundennummer" or "Referenz". If none is given, use the invoice number.

7. **Due date**: The payment deadline in YYYY-MM-DD format if printed ("zahlbar bis", "Fälligkeitsdatum").

8. **Invoice number**: The invoice identifier, labeled "Rechnungsnummer" or "Rechnungs-Nr".

Return ONLY valid JSON in this exact format:
{
  "recipient": "...",
  "iban": "...",
  "bic": "...",
  "amount": 0.00,
  "currency": "EUR",
  "reference": "...",
  "due_date": "YYYY-MM-DD",
  "invoice_number": "...",
  "description": "one line describing what this bill is for",
  "original_text": "the key lines of the invoice as printed",
  "english_translation": "English translation of those lines",
  "confidence": {
    "recipient": 0.0,
    "iban": 0.0,
    "amount": 0.0,
    "reference": 0.0
  }
}

Important:
- Confidence values are between 0.0 and 1.0 and reflect how certain you are of each field
- Use null for fields you cannot find
- The amount must be a number, not a string
- Do not include any text before or after the JSON object
- Do not use markdown code blocks`

// invoiceMultiPagePrompt is used when one invoice arrives as several images,
// e.g. the pages of a long PDF or a burst of photos.
const invoiceMultiPagePrompt = `You are analyzing several images that together form ONE invoice or bill, most likely German. The images are pages or sections of the same document in order. Read all of them before answering; the bank details are often on a different page than the amount.

Extract the payment information for this single invoice: recipient, IBAN, BIC, amount ("Betrag", "Gesamtbetrag", "Summe"), currency, payment reference ("Verwendungszweck", "Kundennummer"), due date and invoice number ("Rechnungsnummer"). Read the IBAN character by character; a single wrong digit makes the payment fail.

Return ONLY valid JSON in this exact format:
{
  "recipient": "...",
  "iban": "...",
  "bic": "...",
  "amount": 0.00,
  "currency": "EUR",
  "reference": "...",
  "due_date": "YYYY-MM-DD",
  "invoice_number": "...",
  "description": "one line describing what this bill is for",
  "original_text": "the key lines of the invoice as printed",
  "english_translation": "English translation of those lines",
  "confidence": {
    "recipient": 0.0,
    "iban": 0.0,
    "amount": 0.0,
    "reference": 0.0
  }
}

Important:
- Produce exactly one JSON object covering all images combined
- Confidence values are between 0.0 and 1.0
- Use null for fields you cannot find
- The amount must be a number, not a string
- Do not include any text before or after the JSON object
- Do not use markdown code blocks`
